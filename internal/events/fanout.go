package events

// Sink receives events
type Sink interface {
	Emit(kind string, payload any)
}

// Fanout delivers every event to each sink in order. Nil sinks are skipped.
type Fanout []Sink

// Emit delivers one event to every sink
func (f Fanout) Emit(kind string, payload any) {
	for _, s := range f {
		if s != nil {
			s.Emit(kind, payload)
		}
	}
}
