package conversation

// Author identifies who produced a turn.
type Author string

const (
	AuthorHuman Author = "human"
	AuthorAI    Author = "ai"
)

// taskToolName is the reserved tool name the agent uses to delegate work to a sub-agent.
const taskToolName = "task"

// Turn is one displayed conversation entry. ToolCalls excludes sub-agent delegations, which
// are listed in SubAgents with the same identifier, status and result.
type Turn struct {
	ID         string     `json:"id"`
	Author     Author     `json:"author"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"toolCalls"`
	SubAgents  []SubAgent `json:"subAgents"`
	ShowAvatar bool       `json:"showAvatar"`
}

// SubAgent is the delegation view of a "task" tool call.
type SubAgent struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	SubAgentName string     `json:"subAgentName"`
	Input        string     `json:"input"`
	Output       string     `json:"output,omitempty"`
	Status       ToolStatus `json:"status"`
}

type turnRecord struct {
	id        string
	author    Author
	content   string
	toolCalls []ToolCall
}

// Reconcile folds an ordered message log into display turns.
//
// Human and AI messages each produce one turn, in first-occurrence order of their
// identifiers; a repeated identifier overwrites the earlier turn in place. Tool messages
// complete the first known tool call with a matching identifier and are otherwise dropped.
// Malformed input never fails: it degrades to a best-effort rendering.
func Reconcile(messages []Message) []Turn {
	records := make(map[string]*turnRecord, len(messages))
	order := make([]string, 0, len(messages))

	upsert := func(rec *turnRecord) {
		if _, seen := records[rec.id]; !seen {
			order = append(order, rec.id)
		}
		records[rec.id] = rec
	}

	for _, msg := range messages {
		switch msg.Kind() {
		case KindHuman:
			upsert(&turnRecord{
				id:      msg.ID,
				author:  AuthorHuman,
				content: msg.Content.ExtractText(),
			})
		case KindAI:
			upsert(&turnRecord{
				id:        msg.ID,
				author:    AuthorAI,
				content:   msg.Content.ExtractText(),
				toolCalls: NormalizeToolCalls(msg),
			})
		case KindTool:
			completeToolCall(records, order, msg.ToolCallID, msg.Content.ExtractText())
		}
	}

	turns := make([]Turn, 0, len(order))
	for i, id := range order {
		rec := records[id]
		turn := Turn{
			ID:         rec.id,
			Author:     rec.author,
			Content:    rec.content,
			ToolCalls:  []ToolCall{},
			SubAgents:  []SubAgent{},
			ShowAvatar: i == 0 || turns[i-1].Author != rec.author,
		}
		for _, tc := range rec.toolCalls {
			if tc.Name == taskToolName {
				if sa, ok := subAgentFrom(tc); ok {
					turn.SubAgents = append(turn.SubAgents, sa)
				}
				continue
			}
			turn.ToolCalls = append(turn.ToolCalls, tc)
		}
		turns = append(turns, turn)
	}
	return turns
}

// completeToolCall attaches result to the first pending or completed call with the given
// identifier, scanning turns in encounter order. It reports whether a call matched.
func completeToolCall(records map[string]*turnRecord, order []string, callID, result string) bool {
	if callID == "" {
		return false
	}
	for _, id := range order {
		rec := records[id]
		for i := range rec.toolCalls {
			if rec.toolCalls[i].ID == callID {
				rec.toolCalls[i].Status = StatusCompleted
				rec.toolCalls[i].Result = result
				return true
			}
		}
	}
	return false
}

// subAgentFrom reports whether tc is a sub-agent delegation and returns its view.
// A task call without a subagent_type has no sub-agent to show.
func subAgentFrom(tc ToolCall) (SubAgent, bool) {
	if tc.Name != taskToolName {
		return SubAgent{}, false
	}
	subType, _ := tc.Args["subagent_type"].(string)
	if subType == "" {
		return SubAgent{}, false
	}
	description, _ := tc.Args["description"].(string)
	return SubAgent{
		ID:           tc.ID,
		Name:         tc.Name,
		SubAgentName: subType,
		Input:        description,
		Output:       tc.Result,
		Status:       tc.Status,
	}, true
}

// UnmatchedResults lists the tool_call_id of every tool message that Reconcile would drop
// because no AI message seen before it declares that call. It is meant for diagnostics logging.
func UnmatchedResults(messages []Message) []string {
	declared := make(map[string][]string)
	var unmatched []string
	for _, msg := range messages {
		switch msg.Kind() {
		case KindAI:
			ids := make([]string, 0)
			for _, tc := range NormalizeToolCalls(msg) {
				ids = append(ids, tc.ID)
			}
			declared[msg.ID] = ids
		case KindHuman:
			delete(declared, msg.ID)
		case KindTool:
			if !isDeclared(declared, msg.ToolCallID) {
				unmatched = append(unmatched, msg.ToolCallID)
			}
		}
	}
	return unmatched
}

func isDeclared(declared map[string][]string, callID string) bool {
	if callID == "" {
		return false
	}
	for _, ids := range declared {
		for _, id := range ids {
			if id == callID {
				return true
			}
		}
	}
	return false
}
