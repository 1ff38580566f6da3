// Package voice turns a speech-to-text transcript stream into command
// inputs.
//
// A Listener dials a WebSocket that publishes transcripts (any STT
// bridge will do) and forwards the text that follows the wake phrase:
//
//	l := voice.NewListener(voice.Config{URL: "ws://localhost:8765/transcripts"})
//	inputs := make(chan command.Input, 8)
//	go l.Run(ctx, inputs)
//
// Frames are either JSON objects
//
//	{"type": "transcript", "text": "hey spider walk forward", "final": true}
//
// or bare text. Partial (non-final) JSON transcripts are ignored.
//
// "hey spider walk forward" yields the input "walk forward". A wake
// phrase with nothing after it counts as a false positive. The
// connection is redialled with backoff until the context ends.
package voice
