package rango

// Close releases every resource the engine reached during its lifecycle, in
// reverse build order: launcher output buffer, pipeline, acceleration
// structures, batch mirrors, device. Teardown is best-effort; resources
// never created are skipped. Close is idempotent and leaves the engine in
// StateDestroyed.
func (e *Engine) Close() error {
	if e == nil || e.state == StateDestroyed {
		return nil
	}

	e.launcher.Close()
	e.launcher = nil

	if e.pl != nil {
		e.pl.Destroy()
		e.pl = nil
	}
	e.tbl = nil

	for _, s := range e.structures {
		s.Free()
	}
	e.structures = nil

	if e.store != nil {
		e.store.Free()
		e.store = nil
	}

	err := e.dev.Close()
	e.state = StateDestroyed
	return err
}
