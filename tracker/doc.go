/*
Package tracker contains the real-time playback side of xentrack.

A song is compiled into a Schedule: the instruments become vm.Programs, the
buses a mixer definition, and the score a sorted list of ScheduledEvents at
exact rational positions. The control side publishes schedules and sends
Commands through a Broker; the audio thread runs a Player, which wraps an
Engine that renders one quantum at a time. Neither the Player nor the Engine
blocks or allocates while rendering. Everything the audio thread wants the
control side to know, such as alerts, the transport status and retired
programs, comes back through the broker as MsgToModel.

Export renders a whole song offline with the same Engine, so an exported file
is sample for sample what playback would have produced.

For example, to play a song until it ends:

	sched, err := tracker.Compile(song, samples, cfg)
	...
	broker := tracker.NewBroker()
	broker.Publish(sched)
	player, err := tracker.NewPlayer(broker, cfg)
	...
	broker.TrySend(tracker.PlayCmd(xentrack.Span{}))

and call player.Process from the audio callback.
*/
package tracker
