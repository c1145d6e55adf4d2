package call

// Controller is the Idle/Active call state machine for one session.
type Controller struct {
	acc *Accumulator
}

func NewController(acc *Accumulator) *Controller {
	return &Controller{acc: acc}
}

// Start activates the call. It reports false if the call was already active.
func (c *Controller) Start() bool {
	return c.acc.setGate(true)
}

// End deactivates the call, cancelling any pending flush and discarding
// buffered audio. It reports false if the call was already idle.
func (c *Controller) End() bool {
	return c.acc.setGate(false)
}

func (c *Controller) Active() bool {
	return c.acc.sess.CallActive()
}
