// Package training fits a U-Net to patches drawn by a sampler.
//
// A Trainer runs epochs of mini-batch steps with a masked binary
// cross-entropy loss, writes checkpoints atomically, and stops early when
// the monitored loss stops improving.
package training
