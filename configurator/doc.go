// Package configurator turns a layer plus its assigned hardware into pipe
// and rotator programming records.
//
// Geometry is derived in a fixed order: the destination is clipped to the
// display and the source crop trimmed in proportion; rotation and excess
// downscale move to a rotator, leaving the pipe with residual flips only;
// chroma-subsampled crops are aligned to even edges; finally a layer that
// straddles the split of a dual-mixer panel is cut in two, the right piece's
// crop starting exactly where the left piece's crop ends.
package configurator
