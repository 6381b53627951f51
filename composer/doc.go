// Package composer ties the hwc packages into per-display composition
// sessions.
//
// A [Composer] owns the pipe registry and rotator pool shared by every
// display, and one [Session] per connected display. Each frame goes through
// [Composer.Prepare], which plans the layers, moves the display's overlay
// state machine and programs the hardware, then [Frame.Commit], which runs
// the fence chain and the display commit. The composer lock is held from
// Prepare until Commit or Abort, so frames of different displays never
// interleave.
//
//	c, err := composer.New(composer.WithDevice(dev))
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//	if err := c.Connect(hwc.Primary); err != nil {
//		return err
//	}
//	f, err := c.Prepare(ctx, hwc.Primary, layers)
//	if err != nil {
//		return err
//	}
//	// Render TagFramebuffer layers into the target here.
//	report, err := f.Commit(ctx)
package composer
