// Package ganglion drives a Ganglion bio-signal board over native BLE or a
// BLED112 serial dongle.
//
// A Session owns the connection and streaming state machine. Transport
// callbacks are queued and processed one at a time by the session's own
// goroutine, so frames are decoded strictly in arrival order. Decoded data
// and lifecycle events are delivered on Events():
//
//	s, err := ganglion.Open(cfg, logger)
//	...
//	rec, err := s.SearchStart(ctx, 0)
//	err = s.ConnectPeripheral(ctx, rec)
//	err = s.StreamStart(ctx)
//	for ev := range s.Events() {
//	    switch e := ev.(type) {
//	    case ganglion.SampleEvent:
//	        ...
//	    case ganglion.CloseEvent:
//	        ...
//	    }
//	}
package ganglion
