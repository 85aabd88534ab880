package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"

	"kasse/internal/core"
	"kasse/internal/services"
)

const timeLayout = "2006-01-02 15:04"

// markdown renders v as a Markdown document: header, balance, members and
// the history newest first.
func markdown(v services.View) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s (%s)\n\n", escape(v.Name), v.FundID)
	fmt.Fprintf(&b, "**Balance:** %s\n\n", v.Balance)
	if v.Nickname != "" {
		fmt.Fprintf(&b, "**You:** %s\n\n", escape(v.Nickname))
	}

	members := make([]string, len(v.Members))
	for i, m := range v.Members {
		members[i] = escape(m)
	}
	fmt.Fprintf(&b, "**Members:** %s\n\n", strings.Join(members, ", "))

	if len(v.History) == 0 {
		b.WriteString("_No transactions yet._\n")
		return b.String()
	}

	b.WriteString("| When | Who | Type | Amount |\n")
	b.WriteString("|---|---|---|---:|\n")
	for _, tx := range v.History {
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n",
			tx.Timestamp.Local().Format(timeLayout),
			escape(tx.User),
			tx.Type,
			tx.Signed(),
		)
	}
	return b.String()
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`, `|`, `\|`, `*`, `\*`, `_`, `\_`, "`", "\\`", `#`, `\#`,
)

// escape keeps user supplied names from being read as Markdown.
func escape(s string) string {
	return markdownEscaper.Replace(s)
}

// printer writes views to w. Consecutive identical views are printed once,
// so polling does not repeat an unchanged fund.
type printer struct {
	w   io.Writer
	raw bool

	mu   sync.Mutex
	last string
}

func newPrinter(w io.Writer, raw bool) *printer {
	return &printer{w: w, raw: raw}
}

func (p *printer) Print(v services.View) {
	md := markdown(v)

	p.mu.Lock()
	defer p.mu.Unlock()
	if md == p.last {
		return
	}
	p.last = md

	if err := render(p.w, md, p.raw); err != nil {
		fmt.Fprintln(p.w, md)
	}
}

// render writes md through glamour unless raw is set.
func render(w io.Writer, md string, raw bool) error {
	if raw {
		_, err := io.WriteString(w, md)
		return err
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return err
	}
	out, err := r.Render(md)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, out)
	return err
}

func moved(op core.TransactionType, id string, amount, balance core.Money) string {
	verb := "Deposited"
	if op == core.Withdraw {
		verb = "Withdrew"
	}
	return fmt.Sprintf("%s %s, fund %s balance %s", verb, amount, id, balance)
}
