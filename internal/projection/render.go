package projection

import (
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
)

// Render draws the board as one table with a column per bucket.
func Render(w io.Writer, snapshot map[Bucket][]Card) error {
	table := tablewriter.NewWriter(w)
	table.Header("New", "Preparing", "Ready")

	rows := 0
	for _, bucket := range Buckets {
		if n := len(snapshot[bucket]); n > rows {
			rows = n
		}
	}

	for i := 0; i < rows; i++ {
		row := make([]any, len(Buckets))
		for col, bucket := range Buckets {
			row[col] = ""
			if cards := snapshot[bucket]; i < len(cards) {
				row[col] = Label(cards[i])
			}
		}
		if err := table.Append(row...); err != nil {
			return err
		}
	}
	return table.Render()
}

// Label is the one-line text of a card.
func Label(card Card) string {
	var b strings.Builder
	if card.Batch.BonoNumber != nil {
		fmt.Fprintf(&b, "#%d ", *card.Batch.BonoNumber)
	}
	name := card.Batch.CustomerName
	if name == "" {
		name = card.Batch.CustomerID
	}
	b.WriteString(name)

	items := 0
	for _, it := range card.Batch.Items {
		items += it.Quantity
	}
	fmt.Fprintf(&b, " (%d item", items)
	if items != 1 {
		b.WriteString("s")
	}
	b.WriteString(")")
	if card.IsNew {
		b.WriteString(" NEW")
	}
	return b.String()
}
