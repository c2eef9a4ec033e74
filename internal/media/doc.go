// Package media turns NAS files into PNG thumbnails.
//
// Raster images and documents are resized with libvips when it is
// initialized and with imaging otherwise. Videos are sampled with ffmpeg:
// a handful of I-frames past the first tenth of the file are written to a
// temporary directory and the frame whose dominant color sits furthest
// from both black and white is kept.
package media
