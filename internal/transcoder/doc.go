// Package transcoder re-encodes videos with ffmpeg.
//
// Batch jobs write a single MP4 next to the caller's target directory and
// run detached from the request that started them. Live sessions produce
// an adaptive HLS ladder into a temporary directory and are handed out
// once ffmpeg has written the master playlist.
//
// Both paths plan resolution, frame rate and bitrate from a Profile. The
// batch and live profiles are separate values so they can be tuned
// independently.
package transcoder
