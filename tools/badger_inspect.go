// Command badger_inspect dumps the chat key space of a Badger store as
// a table. Read-only: safe to run against a database held open by the
// server.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"
	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
)

type messageRow struct {
	Seq          uint64 `cbor:"1,keyasint"`
	Conversation uint64 `cbor:"2,keyasint"`
	SenderID     string `cbor:"3,keyasint"`
	SenderHandle string `cbor:"4,keyasint"`
	Content      string `cbor:"5,keyasint"`
	Type         string `cbor:"6,keyasint"`
	Lang         string `cbor:"7,keyasint"`
	At           int64  `cbor:"8,keyasint"`
}

type userRow struct {
	ID        string `cbor:"1,keyasint"`
	Handle    string `cbor:"2,keyasint"`
	Avatar    string `cbor:"4,keyasint"`
	CreatedAt int64  `cbor:"5,keyasint"`
}

type conversationRow struct {
	ID        uint64 `cbor:"1,keyasint"`
	Name      string `cbor:"2,keyasint"`
	IsGroup   bool   `cbor:"3,keyasint"`
	CreatedAt int64  `cbor:"4,keyasint"`
}

func main() {
	dbPath := flag.String("db", "./data/badger", "Path to badger DB")
	prefix := flag.String("prefix", "msg:", "Prefix to scan (msg:, user:, conv:, part:, member:, pair:)")
	flag.Parse()

	db, err := openDB(*dbPath)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Key", "Type", "Timestamp", "Who", "Detail"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	rows := 0
	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefixBytes := []byte(*prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			item := it.Item()
			key := string(item.Key())

			err := item.Value(func(val []byte) error {
				table.Append(describe(key, val))
				rows++
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}

	color.Cyan.Printf("Scanned prefix %q: %d entries\n\n", *prefix, rows)
	table.Render()
}

// describe maps one key/value pair to a display row based on the key
// namespace. Unknown or index-only entries fall back to raw display.
func describe(key string, val []byte) []string {
	switch {
	case strings.HasPrefix(key, "msg:"):
		var row messageRow
		if err := cbor.Unmarshal(val, &row); err != nil {
			return rawRow(key, val)
		}
		return []string{
			key, "MESSAGE",
			time.Unix(0, row.At).UTC().Format("15:04:05"),
			row.SenderHandle,
			truncate(row.Content, 60),
		}
	case strings.HasPrefix(key, "user:"):
		var row userRow
		if err := cbor.Unmarshal(val, &row); err != nil {
			return rawRow(key, val)
		}
		return []string{
			key, "USER",
			time.Unix(row.CreatedAt, 0).UTC().Format("2006-01-02"),
			row.Handle,
			shortID(row.ID),
		}
	case strings.HasPrefix(key, "conv:"):
		var row conversationRow
		if err := cbor.Unmarshal(val, &row); err != nil {
			return rawRow(key, val)
		}
		kind := "DIRECT"
		if row.IsGroup {
			kind = "GROUP"
		}
		return []string{
			key, kind,
			time.Unix(row.CreatedAt, 0).UTC().Format("2006-01-02"),
			"",
			row.Name,
		}
	case strings.HasPrefix(key, "msgseq:"), key == "convseq":
		return []string{key, "COUNTER", "", "", fmt.Sprintf("%d", binary.BigEndian.Uint64(val))}
	case strings.HasPrefix(key, "pair:"):
		return []string{key, "PAIR", "", "", fmt.Sprintf("conv %d", binary.BigEndian.Uint64(val))}
	default:
		return rawRow(key, val)
	}
}

func rawRow(key string, val []byte) []string {
	return []string{key, "RAW", "", "", fmt.Sprintf("%d bytes", len(val))}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func openDB(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true).
		WithValueLogFileSize(10 * 1024 * 1024)

	return badger.Open(opts)
}
