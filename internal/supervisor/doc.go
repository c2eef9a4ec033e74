// Package supervisor spawns and tracks external processes (ffmpeg, ffprobe,
// file) on behalf of the media pipeline.
//
// Every spawned process becomes a [Task] with its own append-only log file at
// <tmp>/logs/tasks/<Y>-<M>-<D>/<id>.log. The log receives a JSON startup
// record, the PID, every stdout/stderr chunk tagged [OUT] or [ERR] in arrival
// order, and the exit and close records.
//
// Spawn never fails synchronously. A process that cannot be started is
// reported through [Task.Wait] and its log file.
//
// On [Supervisor.Shutdown] tasks spawned with AllowTermination receive
// SIGTERM, are polled until they exit or the timeout passes, and are then
// sent SIGKILL. Tasks without AllowTermination are left running.
package supervisor
