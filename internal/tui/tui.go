package tui

import (
	"context"
	"strings"

	"bos-cli/internal/feed"
	"bos-cli/internal/model"

	tea "github.com/charmbracelet/bubbletea"
)

// Run shows tasks as an interactive outline until the user quits. When replica is set, every
// change it applies is pushed into the outline.
func Run(ctx context.Context, tasks []model.Task, opts Options, replica *feed.Replica) error {
	p := tea.NewProgram(New(tasks, opts), tea.WithAltScreen(), tea.WithContext(ctx))
	if replica != nil {
		replica.OnChange(func(ts []model.Task) { p.Send(TasksMsg(ForJob(ts, opts.JobID))) })
	}
	_, err := p.Run()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// ForJob keeps the tasks of jobID. An empty jobID keeps everything.
func ForJob(tasks []model.Task, jobID string) []model.Task {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return tasks
	}
	out := make([]model.Task, 0, len(tasks))
	for _, t := range tasks {
		if strings.TrimSpace(t.JobID) == jobID {
			out = append(out, t)
		}
	}
	return out
}
