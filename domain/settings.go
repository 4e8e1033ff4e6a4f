package domain

// Settings represents user configurable board display options. They are
// consumed by the rendering layer only; move handling never reads them.
type Settings struct {
	TasksPerCategory int  `json:"tasksPerCategory"`
	ShowDoneTasks    bool `json:"displayDoneTasks"`
}
