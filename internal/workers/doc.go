/*
Package workers sizes the concurrency slots of the media pipeline.

The commonly used runtime.NumCPU() reports the host's CPUs even inside a
CPU-limited container. GOMAXPROCS follows the cgroup limit, so every helper
here derives its count from it:

	slots := workers.ForCPU(8)   // ffmpeg frame extraction
	slots := workers.ForMixed(8) // raster decode and resize
	slots := workers.ForIO(16)   // fingerprint reads

# Override

Operators can pin the count with the thumbnail_workers setting, which the
startup code forwards to SetOverride. The limit argument still applies.

All functions are safe for concurrent use.
*/
package workers
