// Package probe inspects media containers with ffprobe.
//
// Probes run as supervised, terminable tasks with a short timeout and are
// never retried. [Prober.Probe] returns every stream in container order;
// [Prober.Duration] is a lighter query used when only the length matters.
package probe
