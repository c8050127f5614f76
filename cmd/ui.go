package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/pterm/pterm"

	"github.com/agentic-research/intentfs/internal/notify"
)

// ptermUI reports to the terminal and asks before destructive operations.
type ptermUI struct {
	out io.Writer
	yes bool
}

func newPtermUI(out io.Writer, yes bool) *ptermUI {
	return &ptermUI{out: out, yes: yes}
}

func (u *ptermUI) Info(msg string)  { pterm.Info.WithWriter(u.out).Println(msg) }
func (u *ptermUI) Warn(msg string)  { pterm.Warning.WithWriter(u.out).Println(msg) }
func (u *ptermUI) Error(msg string) { pterm.Error.WithWriter(u.out).Println(msg) }

func (u *ptermUI) Success(msg string) { pterm.Success.WithWriter(u.out).Println(msg) }

// Confirm approves without asking under --yes.
func (u *ptermUI) Confirm(ctx context.Context, prompt string) (bool, error) {
	if u.yes {
		return true, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return pterm.DefaultInteractiveConfirm.
		WithDefaultText(prompt).
		WithDefaultValue(false).
		Show()
}

// Table renders rows under header.
func (u *ptermUI) Table(header []string, rows [][]string) error {
	data := pterm.TableData{header}
	data = append(data, rows...)
	s, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(u.out, s)
	return err
}

func (u *ptermUI) Section(title string) {
	pterm.DefaultSection.WithWriter(u.out).Println(title)
}

var (
	_ notify.Reporter  = (*ptermUI)(nil)
	_ notify.Confirmer = (*ptermUI)(nil)
)
