package tools

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/tools"
)

var datetimeLogger = logrus.WithField("tool", "datetime")

type DateTimeTool struct {
	now func() time.Time
}

func NewDateTimeTool() *DateTimeTool {
	datetimeLogger.Debug("Initializing datetime tool")
	return &DateTimeTool{now: time.Now}
}

func (d *DateTimeTool) Description() string {
	return "Return the current date and time. Pass an IANA time zone such as Europe/Paris, or nothing for UTC."
}

func (d *DateTimeTool) Name() string {
	return "datetime"
}

func (d *DateTimeTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"timezone": map[string]any{"type": "string"},
		},
	}
}

func (d *DateTimeTool) Call(ctx context.Context, input string) (string, error) {
	var args struct {
		Timezone string `json:"timezone"`
	}
	if err := decodeInput(input, &args); err != nil {
		return "Error: " + err.Error(), nil
	}

	loc := time.UTC
	if tz := strings.TrimSpace(args.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			datetimeLogger.WithError(err).WithField("timezone", tz).Warn("Unknown time zone")
			return "Error: unknown time zone " + tz, nil
		}
		loc = l
	}

	now := d.now().In(loc)
	datetimeLogger.WithFields(logrus.Fields{"timezone": loc.String()}).Info("DateTime tool called")
	return now.Format(time.RFC1123Z), nil
}

var _ tools.Tool = (*DateTimeTool)(nil)
