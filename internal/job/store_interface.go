package job

// JobStore is the snapshot holder shared by the filter view and the
// application tracker.
type JobStore interface {
	Replace(jobs []Job) error
	Snapshot() []Job
	Get(id string) (Job, error)
	Len() int
	UpdateApplications(id string, fn func(Job) (Job, error)) (Job, error)
	Watch(fn func()) (cancel func())
}

var _ JobStore = (*Store)(nil)
