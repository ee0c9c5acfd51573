package conversation

import "sort"

// TodoStatus is the progress of one entry in the agent's task list.
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
)

// Todo is one entry of the agent's task list.
type Todo struct {
	ID      string     `json:"id,omitempty"`
	Content string     `json:"content"`
	Status  TodoStatus `json:"status"`
}

// Interrupt is a pause point the runtime exposes for step debugging.
type Interrupt struct {
	ID    string `json:"id,omitempty"`
	Value any    `json:"value,omitempty"`
}

// ThreadState is the runtime's current state for a thread.
type ThreadState struct {
	Messages  []Message         `json:"messages"`
	Todos     []Todo            `json:"todos,omitempty"`
	Files     map[string]string `json:"files,omitempty"`
	Interrupt *Interrupt        `json:"interrupt,omitempty"`
	Next      []string          `json:"next,omitempty"`
}

// Clone deep copies the state.
func (s ThreadState) Clone() ThreadState {
	out := ThreadState{
		Messages: Clone(s.Messages),
		Todos:    append([]Todo(nil), s.Todos...),
		Next:     append([]string(nil), s.Next...),
	}
	if s.Files != nil {
		out.Files = make(map[string]string, len(s.Files))
		for k, v := range s.Files {
			out.Files[k] = v
		}
	}
	if s.Interrupt != nil {
		in := *s.Interrupt
		out.Interrupt = &in
	}
	return out
}

// File is a generated file as listed in a view.
type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// ThreadView is everything the console renders for a thread.
type ThreadView struct {
	ThreadID  string     `json:"threadId"`
	Turns     []Turn     `json:"turns"`
	SubAgents []SubAgent `json:"subAgents"`
	Todos     []Todo     `json:"todos"`
	Files     []File     `json:"files"`
	Interrupt *Interrupt `json:"interrupt,omitempty"`
	Loading   bool       `json:"loading"`
}

// BuildView reconciles the state's messages and gathers the rest of the thread's display data.
// Files are sorted by path so repeated builds are identical.
func BuildView(threadID string, state ThreadState, loading bool) ThreadView {
	turns := Reconcile(state.Messages)
	subAgents := make([]SubAgent, 0)
	for _, t := range turns {
		subAgents = append(subAgents, t.SubAgents...)
	}

	files := make([]File, 0, len(state.Files))
	for path, content := range state.Files {
		files = append(files, File{Path: path, Content: content})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	todos := append([]Todo{}, state.Todos...)

	var interrupt *Interrupt
	if state.Interrupt != nil {
		in := *state.Interrupt
		interrupt = &in
	}

	return ThreadView{
		ThreadID:  threadID,
		Turns:     turns,
		SubAgents: subAgents,
		Todos:     todos,
		Files:     files,
		Interrupt: interrupt,
		Loading:   loading,
	}
}
