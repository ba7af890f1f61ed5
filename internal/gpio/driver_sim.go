package gpio

import "sync"

// SimDriver is the in-memory Driver implementation that backs test and
// development environments. Every write is buffered in memory; reads
// return the last written level, so a SimDriver-backed reconciler never
// observes drift unless the test forces one via ForceLevel.
type SimDriver struct {
	mu         sync.Mutex
	configured map[int]Mode
	levels     map[int]bool
	duty       map[int]int
}

// NewSimDriver returns a ready-to-use simulated driver.
func NewSimDriver() *SimDriver {
	return &SimDriver{
		configured: make(map[int]Mode),
		levels:     make(map[int]bool),
		duty:       make(map[int]int),
	}
}

func (d *SimDriver) Configure(pin int, mode Mode, initialLevel bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.configured[pin] = mode
	d.levels[pin] = initialLevel
	return nil
}

func (d *SimDriver) Write(pin int, level bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.configured[pin]; !ok {
		return &DriverFault{Pin: pin, Op: "write", Err: ErrPinNotConfigured}
	}
	d.levels[pin] = level
	return nil
}

func (d *SimDriver) Read(pin int) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.configured[pin]; !ok {
		return false, &DriverFault{Pin: pin, Op: "read", Err: ErrPinNotConfigured}
	}
	return d.levels[pin], nil
}

func (d *SimDriver) SetPWM(pin int, dutyPercent int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.configured[pin]; !ok {
		return &DriverFault{Pin: pin, Op: "set_pwm", Err: ErrPinNotConfigured}
	}
	if dutyPercent < 0 {
		dutyPercent = 0
	}
	if dutyPercent > 100 {
		dutyPercent = 100
	}
	d.duty[pin] = dutyPercent
	if dutyPercent == 0 {
		// Duty 0 stops PWM and leaves the pin LOW.
		d.levels[pin] = false
	}
	return nil
}

func (d *SimDriver) Cleanup(pin int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.configured, pin)
	delete(d.levels, pin)
	delete(d.duty, pin)
	return nil
}

func (d *SimDriver) CleanupAll() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.configured = make(map[int]Mode)
	d.levels = make(map[int]bool)
	d.duty = make(map[int]int)
	return nil
}

// ForceLevel lets a test simulate an external actor flipping a pin without
// going through Write, so auto-repair can be exercised.
func (d *SimDriver) ForceLevel(pin int, level bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.levels[pin] = level
}

// Duty returns the last configured PWM duty for pin (test helper).
func (d *SimDriver) Duty(pin int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.duty[pin]
}

// Level returns the last written electrical level for pin (test helper).
func (d *SimDriver) Level(pin int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.levels[pin]
}
