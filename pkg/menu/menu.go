// Package menu renders the operator facing text of the user app.
package menu

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/golang/glog"

	"github.com/robotalks/userapp/pkg/ops"
)

const (
	lineWidth = 59
	heading   = "=================== Main Menu ============================"
	prompt    = "  Selection :"
)

// InvalidNotice is written when a command is not recognized.
const InvalidNotice = "Invalid Number !\r"

// Presenter writes the main menu.
type Presenter struct {
	Writer io.Writer

	text []byte
}

// NewPresenter renders the menu of the registry once; the registry is
// immutable, so is the menu.
func NewPresenter(w io.Writer, r *ops.Registry) *Presenter {
	return &Presenter{Writer: w, text: Render(r.Bindings())}
}

// Render renders the menu text of bindings.
func Render(bindings []ops.Binding) []byte {
	var w bytes.Buffer
	fmt.Fprintf(&w, "\r\n%s\r\n\n", heading)
	for _, b := range bindings {
		dashes := lineWidth - len(b.Title) - 5
		if dashes < 3 {
			dashes = 3
		}
		fmt.Fprintf(&w, "  %s %s %c\r\n\n", b.Title, strings.Repeat("-", dashes), byte(b.Command))
	}
	fmt.Fprintf(&w, "%s\r\n\n", prompt)
	return w.Bytes()
}

// Present writes the menu. Output failures are logged, not escalated.
func (p *Presenter) Present() {
	p.PresentTo(p.Writer)
}

// PresentTo writes the menu to w.
func (p *Presenter) PresentTo(w io.Writer) {
	if _, err := w.Write(p.text); err != nil {
		glog.V(1).Infof("present menu: %v", err)
	}
}

// Notice writes a short message. Output failures are logged, not escalated.
func Notice(w io.Writer, msg string) {
	if _, err := io.WriteString(w, msg); err != nil {
		glog.V(1).Infof("notice: %v", err)
	}
}

// Banner is the startup banner identifying the running user app.
type Banner struct {
	AppID     byte
	Copyright string
}

// DefaultCopyright is the banner copyright line.
const DefaultCopyright = "(C) COPYRIGHT 2017 STMicroelectronics"

// WriteTo implements io.WriterTo.
func (b Banner) WriteTo(w io.Writer) (int64, error) {
	const width = 70
	border := strings.Repeat("=", width)
	line := func(text string) string {
		pad := width - 2 - len(text)
		if pad < 0 {
			pad = 0
		}
		left := pad / 2
		return "=" + strings.Repeat(" ", left) + text + strings.Repeat(" ", pad-left) + "="
	}
	copyright := b.Copyright
	if copyright == "" {
		copyright = DefaultCopyright
	}
	appID := b.AppID
	if appID == 0 {
		appID = 'A'
	}
	var buf bytes.Buffer
	for _, l := range []string{
		border,
		line(copyright),
		line(""),
		line(fmt.Sprintf("User App #%c", appID)),
		border,
	} {
		buf.WriteString("\r\n" + l)
	}
	buf.WriteString("\r\n\r\n")
	n, err := w.Write(buf.Bytes())
	return int64(n), err
}
