package sharedtrain

// Worker is what a task hands to Run: the configuration for the unit and the
// model the leader trains.
//
// Only the leader's Worker is used for a unit. Followers may pass a Worker
// without a model.
type Worker struct {
	// Config is the training configuration. Nil means DefaultConfig().
	Config *Config
	// Model is the shared model the leader drives.
	Model Model
}

// config returns a defaulted copy of w's configuration.
func (w *Worker) config() Config {
	if w == nil || w.Config == nil {
		return DefaultConfig()
	}
	cfg := *w.Config
	SetDefaults(&cfg)

	return cfg
}

// model returns w's model, nil when w is nil.
func (w *Worker) model() Model {
	if w == nil {
		return nil
	}

	return w.Model
}
