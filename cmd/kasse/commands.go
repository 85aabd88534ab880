package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/subcommands"

	"kasse/internal/cli"
	"kasse/internal/core"
	"kasse/internal/session"
)

var commands = []subcommands.Command{
	&createCmd{},
	&joinCmd{},
	&moveCmd{op: core.Deposit},
	&moveCmd{op: core.Withdraw},
	&showCmd{},
	&watchCmd{},
}

type createCmd struct {
	name     string
	id       string
	nickname string
	raw      bool
}

func (*createCmd) Name() string     { return "create" }
func (*createCmd) Synopsis() string { return "create a new fund" }
func (*createCmd) Usage() string {
	return `kasse create -name <fund name> -id <4-8 digits> -nick <nickname>

  Creates a fund with a zero balance and you as its first member.
`
}

func (c *createCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.name, "name", "", "Name of the fund.")
	f.StringVar(&c.id, "id", "", "Fund ID, 4 to 8 digits.")
	f.StringVar(&c.nickname, "nick", "", "Your nickname.")
	f.BoolVar(&c.raw, "raw", false, "Print Markdown source instead of rendering it.")
}

func (c *createCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return run(ctx, func(ctx context.Context, a *app) error {
		_, view, err := a.svc.CreateFund(ctx, c.name, c.id, c.nickname)
		if err != nil {
			return err
		}
		return render(a.out, markdown(view), c.raw)
	})
}

type joinCmd struct {
	id       string
	nickname string
	raw      bool
}

func (*joinCmd) Name() string     { return "join" }
func (*joinCmd) Synopsis() string { return "join an existing fund" }
func (*joinCmd) Usage() string {
	return `kasse join -id <fund id> -nick <nickname>

  Adds you to the members of a fund. Joining twice is harmless.
`
}

func (c *joinCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.id, "id", "", "Fund ID.")
	f.StringVar(&c.nickname, "nick", "", "Your nickname.")
	f.BoolVar(&c.raw, "raw", false, "Print Markdown source instead of rendering it.")
}

func (c *joinCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return run(ctx, func(ctx context.Context, a *app) error {
		_, view, err := a.svc.JoinFund(ctx, c.id, c.nickname)
		if err != nil {
			return err
		}
		return render(a.out, markdown(view), c.raw)
	})
}

// moveCmd is both deposit and withdraw.
type moveCmd struct {
	op       core.TransactionType
	id       string
	nickname string
}

func (c *moveCmd) Name() string { return string(c.op) }

func (c *moveCmd) Synopsis() string {
	if c.op == core.Withdraw {
		return "take money out of a fund"
	}
	return "pay money into a fund"
}

func (c *moveCmd) Usage() string {
	return fmt.Sprintf(`kasse %s -id <fund id> -nick <nickname> <amount>

  The amount accepts a dot or a comma as decimal separator, e.g. 12.50 or 12,50.
  You are added to the fund's members if you are not one yet.
`, c.op)
}

func (c *moveCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.id, "id", "", "Fund ID.")
	f.StringVar(&c.nickname, "nick", "", "Your nickname.")
}

func (c *moveCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: exactly one amount is required.")
		return subcommands.ExitUsageError
	}
	rawAmount := f.Arg(0)

	return run(ctx, func(ctx context.Context, a *app) error {
		sess, _, err := a.svc.JoinFund(ctx, c.id, c.nickname)
		if err != nil {
			return err
		}

		move := a.svc.Deposit
		if c.op == core.Withdraw {
			move = a.svc.Withdraw
		}
		balance, err := move(ctx, sess, rawAmount)
		if err != nil {
			return err
		}
		amount, _ := core.ParseAmount(rawAmount)
		fmt.Fprintln(a.out, moved(c.op, sess.FundID, amount, balance))
		return nil
	})
}

type showCmd struct {
	id  string
	raw bool
}

func (*showCmd) Name() string     { return "show" }
func (*showCmd) Synopsis() string { return "print a fund's balance, members and history" }
func (*showCmd) Usage() string {
	return `kasse show -id <fund id>

  Prints the fund without joining it.
`
}

func (c *showCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.id, "id", "", "Fund ID.")
	f.BoolVar(&c.raw, "raw", false, "Print Markdown source instead of rendering it.")
}

func (c *showCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return run(ctx, func(ctx context.Context, a *app) error {
		view, err := a.svc.Lookup(ctx, c.id)
		if err != nil {
			return err
		}
		return render(a.out, markdown(view), c.raw)
	})
}

type watchCmd struct {
	id       string
	nickname string
	raw      bool
}

func (*watchCmd) Name() string     { return "watch" }
func (*watchCmd) Synopsis() string { return "join a fund and follow it live" }
func (*watchCmd) Usage() string {
	return `kasse watch -id <fund id> -nick <nickname>

  Joins the fund and prints it again whenever anyone changes it. Commands read
  from standard input, one per line:

    deposit <amount>
    withdraw <amount>
    leave

  Interrupt with Ctrl-C to stop.
`
}

func (c *watchCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.id, "id", "", "Fund ID.")
	f.StringVar(&c.nickname, "nick", "", "Your nickname.")
	f.BoolVar(&c.raw, "raw", false, "Print Markdown source instead of rendering it.")
}

func (c *watchCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	ctx, stop := cli.SignalContext(ctx)
	defer stop()

	return run(ctx, func(ctx context.Context, a *app) error {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		lost := make(chan string, 1)
		tab := session.NewTab(a.svc, a.backend.Notifier, session.Config{
			Interval: a.interval,
			Render:   newPrinter(a.out, c.raw).Print,
			OnLost: func(id string) {
				select {
				case lost <- id:
				default:
				}
			},
		})
		defer tab.Close()

		if _, err := tab.Join(ctx, c.id, c.nickname); err != nil {
			return err
		}

		go func() {
			readCommands(ctx, os.Stdin, os.Stderr, tab)
			if tab.State() == session.Anonymous {
				cancel()
			}
		}()

		select {
		case <-ctx.Done():
			return nil
		case id := <-lost:
			return fmt.Errorf("fund %s: %w", id, core.ErrNotFound)
		}
	})
}

// readCommands runs the deposit, withdraw and leave lines read from r against
// tab until r ends, the tab leaves or ctx is done. Errors go to errw and do not
// stop the loop.
func readCommands(ctx context.Context, r io.Reader, errw io.Writer, tab *session.Tab) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		var err error
		switch cmd, args := strings.ToLower(fields[0]), strings.Join(fields[1:], " "); cmd {
		case "deposit":
			_, err = tab.Deposit(ctx, args)
		case "withdraw":
			_, err = tab.Withdraw(ctx, args)
		case "leave", "quit", "exit":
			tab.Leave()
			return
		default:
			err = fmt.Errorf("unknown command %q, want deposit, withdraw or leave", cmd)
		}
		if err != nil {
			fmt.Fprintln(errw, "Error:", err)
		}
	}
}
