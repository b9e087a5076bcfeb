// Package watchdog services the hardware watchdog owned by the platform.
//
// The dispatcher never configures or reads a watchdog: platform bring-up
// configures the timeout before the dispatch loop starts, and the loop only
// ever triggers a reload. A reload is fire-and-forget. When the hardware does
// not accept it, the expected outcome is a watchdog reset.
package watchdog

// Refresher reloads the watchdog countdown to its configured maximum.
type Refresher interface {
	Refresh()
}

// RefreshFunc is the func form of Refresher.
type RefreshFunc func()

// Refresh implements Refresher.
func (f RefreshFunc) Refresh() {
	f()
}

// Nop is a Refresher for platforms without a watchdog.
var Nop Refresher = RefreshFunc(func() {})

// KeyReload is the key written to an IWDG style key register to reload
// the countdown.
const KeyReload uint32 = 0xAAAA

// KeyRegister refreshes a watchdog by writing the reload key into its key
// register.
type KeyRegister struct {
	Write func(key uint32)
}

// Refresh implements Refresher.
func (r *KeyRegister) Refresh() {
	r.Write(KeyReload)
}

// Multi refreshes all Refreshers in order.
type Multi []Refresher

// Refresh implements Refresher.
func (m Multi) Refresh() {
	for _, r := range m {
		r.Refresh()
	}
}
