// Package shell implements the commands of the interactive client. Command lines are split like shell
// words, and keys and values are then read in the printable form of codec.Printable, so '\xff' in
// single quotes is a single byte. Outside of an explicit transaction every command runs in a
// transaction of its own.
package shell

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/mattn/go-shellwords"
	"github.com/olekukonko/tablewriter"
	"github.com/pingcap/errors"

	"github.com/fdbmem/fdbmem/kv/db"
	"github.com/fdbmem/fdbmem/kv/transaction/mutation"
	"github.com/fdbmem/fdbmem/kv/transaction/mvcc"
	"github.com/fdbmem/fdbmem/kv/util/codec"
)

// ErrExit is returned by Execute for the exit command.
var ErrExit = errors.New("exit")

const defaultRangeLimit = 25

type command struct {
	usage string
	help  string
	args  [2]int
	run   func(s *Session, args []string) error
}

var commands map[string]*command

func init() {
	commands = map[string]*command{
		"begin":      {"begin", "Begin a new transaction.", [2]int{0, 0}, (*Session).begin},
		"commit":     {"commit", "Commit the current transaction.", [2]int{0, 0}, (*Session).commit},
		"rollback":   {"rollback", "Discard the current transaction.", [2]int{0, 0}, (*Session).rollback},
		"reset":      {"reset", "Reset the current transaction to a new one.", [2]int{0, 0}, (*Session).reset},
		"get":        {"get <key>", "Fetch the value of a key.", [2]int{1, 1}, (*Session).get},
		"getkey":     {"getkey <fge|fgt|lle|llt> <key> [offset]", "Resolve a key selector.", [2]int{2, 3}, (*Session).getKey},
		"getrange":   {"getrange <begin> [end] [limit]", "Fetch the keys in [begin, end).", [2]int{1, 3}, (*Session).getRange},
		"getrangerv": {"getrangerv <begin> [end] [limit]", "Fetch the keys in [begin, end) in reverse.", [2]int{1, 3}, (*Session).getRangeReverse},
		"set":        {"set <key> <value>", "Set a key to a value.", [2]int{2, 2}, (*Session).set},
		"clear":      {"clear <key>", "Clear a key.", [2]int{1, 1}, (*Session).clear},
		"clearrange": {"clearrange <begin> <end>", "Clear every key in [begin, end).", [2]int{2, 2}, (*Session).clearRange},
		"atomic":     {"atomic <op> <key> <param>", "Apply an atomic operation, e.g. add or max.", [2]int{3, 3}, (*Session).atomic},
		"add":        {"add <key> <n>", "Atomically add an integer to a counter key.", [2]int{2, 2}, (*Session).add},
		"getversion": {"getversion", "Print the read version of the transaction.", [2]int{0, 0}, (*Session).getVersion},
		"dump":       {"dump", "Print every key with its history.", [2]int{0, 0}, (*Session).dump},
		"help":       {"help", "Print this help.", [2]int{0, 0}, (*Session).help},
		"exit":       {"exit", "Leave the shell.", [2]int{0, 0}, (*Session).exit},
	}
}

// Session is the state of one interactive client: the database and the open transaction, if any.
type Session struct {
	db  *db.DB
	out io.Writer
	txn *mvcc.Txn
}

func NewSession(d *db.DB, out io.Writer) *Session {
	return &Session{db: d, out: out}
}

// InTransaction reports whether an explicit transaction is open.
func (s *Session) InTransaction() bool {
	return s.txn != nil
}

// Execute runs one command line.
func (s *Session) Execute(line string) error {
	args, err := shellwords.Parse(line)
	if err != nil {
		return errors.Annotate(err, "parse command")
	}
	if len(args) == 0 {
		return nil
	}
	cmd, ok := commands[strings.ToLower(args[0])]
	if !ok {
		return errors.Errorf("unknown command %q, try help", args[0])
	}
	args = args[1:]
	if len(args) < cmd.args[0] || len(args) > cmd.args[1] {
		return errors.Errorf("usage: %s", cmd.usage)
	}
	return cmd.run(s, args)
}

// Close discards the open transaction.
func (s *Session) Close() {
	if s.txn != nil {
		s.txn.Cancel()
		s.txn = nil
	}
}

// do runs f in the open transaction, or in a transaction of its own that is committed when write is
// set. Output of f is only printed once it has succeeded.
func (s *Session) do(write bool, f func(txn *mvcc.Txn, out io.Writer) error) error {
	var buf bytes.Buffer
	if s.txn != nil {
		if err := f(s.txn, &buf); err != nil {
			return err
		}
		_, err := buf.WriteTo(s.out)
		return errors.Trace(err)
	}

	var committed *mvcc.Txn
	fn := func(txn *mvcc.Txn) (interface{}, error) {
		buf.Reset()
		committed = txn
		return nil, f(txn, &buf)
	}
	var err error
	if write {
		_, err = s.db.Transact(context.Background(), fn)
	} else {
		_, err = s.db.ReadTransact(context.Background(), fn)
	}
	if err != nil {
		return err
	}
	if _, err := buf.WriteTo(s.out); err != nil {
		return errors.Trace(err)
	}
	if write {
		fmt.Fprintf(s.out, "Committed (%d)\n", committed.CommittedVersion())
	}
	return nil
}

func (s *Session) begin(args []string) error {
	if s.txn != nil {
		return errors.New("there is already an active transaction")
	}
	txn, err := s.db.BeginTransaction()
	if err != nil {
		return err
	}
	s.txn = txn
	fmt.Fprintln(s.out, "Transaction started")
	return nil
}

func (s *Session) commit(args []string) error {
	if s.txn == nil {
		return errors.New("there is no active transaction")
	}
	txn := s.txn
	s.txn = nil
	if err := txn.Commit(); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Committed (%d)\n", txn.CommittedVersion())
	return nil
}

func (s *Session) rollback(args []string) error {
	if s.txn == nil {
		return errors.New("there is no active transaction")
	}
	s.Close()
	fmt.Fprintln(s.out, "Transaction rolled back")
	return nil
}

func (s *Session) reset(args []string) error {
	if s.txn == nil {
		return errors.New("there is no active transaction")
	}
	if err := s.txn.Reset(); err != nil {
		return err
	}
	fmt.Fprintln(s.out, "Transaction reset")
	return nil
}

func (s *Session) get(args []string) error {
	key, err := codec.ParsePrintable(args[0])
	if err != nil {
		return err
	}
	return s.do(false, func(txn *mvcc.Txn, out io.Writer) error {
		value, err := txn.Get(key)
		if err != nil {
			return err
		}
		if value == nil {
			fmt.Fprintf(out, "`%s': not found\n", codec.Printable(key))
			return nil
		}
		fmt.Fprintf(out, "`%s' is `%s'\n", codec.Printable(key), codec.Printable(value))
		return nil
	})
}

func parseSelector(kind, key, offset string) (mvcc.KeySelector, error) {
	k, err := codec.ParsePrintable(key)
	if err != nil {
		return mvcc.KeySelector{}, err
	}
	var sel mvcc.KeySelector
	switch strings.ToLower(kind) {
	case "fge":
		sel = mvcc.FirstGreaterOrEqual(k)
	case "fgt":
		sel = mvcc.FirstGreaterThan(k)
	case "lle":
		sel = mvcc.LastLessOrEqual(k)
	case "llt":
		sel = mvcc.LastLessThan(k)
	default:
		return mvcc.KeySelector{}, errors.Errorf("unknown selector %q", kind)
	}
	if offset != "" {
		n, err := strconv.Atoi(offset)
		if err != nil {
			return mvcc.KeySelector{}, errors.Annotatef(err, "invalid offset %q", offset)
		}
		sel = sel.Add(n)
	}
	return sel, nil
}

func (s *Session) getKey(args []string) error {
	offset := ""
	if len(args) == 3 {
		offset = args[2]
	}
	sel, err := parseSelector(args[0], args[1], offset)
	if err != nil {
		return err
	}
	return s.do(false, func(txn *mvcc.Txn, out io.Writer) error {
		key, err := txn.GetKey(sel)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s resolves to `%s'\n", sel, codec.Printable(key))
		return nil
	})
}

func (s *Session) getRange(args []string) error {
	return s.readRange(args, false)
}

func (s *Session) getRangeReverse(args []string) error {
	return s.readRange(args, true)
}

func (s *Session) readRange(args []string, reverse bool) error {
	begin, err := codec.ParsePrintable(args[0])
	if err != nil {
		return err
	}
	end := codec.MaxKey
	if len(args) > 1 {
		if end, err = codec.ParsePrintable(args[1]); err != nil {
			return err
		}
	}
	limit := defaultRangeLimit
	if len(args) > 2 {
		if limit, err = strconv.Atoi(args[2]); err != nil {
			return errors.Annotatef(err, "invalid limit %q", args[2])
		}
	}
	opts := mvcc.RangeOptions{Limit: limit, Reverse: reverse}
	return s.do(false, func(txn *mvcc.Txn, out io.Writer) error {
		result, err := txn.GetRange(mvcc.FirstGreaterOrEqual(begin), mvcc.FirstGreaterOrEqual(end), opts)
		if err != nil {
			return err
		}
		for _, kv := range result.KeyValues {
			fmt.Fprintf(out, "`%s' is `%s'\n", codec.Printable(kv.Key), codec.Printable(kv.Value))
		}
		if result.More {
			fmt.Fprintf(out, "Range limited to %d keys\n", limit)
		}
		return nil
	})
}

func (s *Session) set(args []string) error {
	key, err := codec.ParsePrintable(args[0])
	if err != nil {
		return err
	}
	value, err := codec.ParsePrintable(args[1])
	if err != nil {
		return err
	}
	return s.do(true, func(txn *mvcc.Txn, out io.Writer) error {
		return txn.Set(key, value)
	})
}

func (s *Session) clear(args []string) error {
	key, err := codec.ParsePrintable(args[0])
	if err != nil {
		return err
	}
	return s.do(true, func(txn *mvcc.Txn, out io.Writer) error {
		return txn.Clear(key)
	})
}

func (s *Session) clearRange(args []string) error {
	begin, err := codec.ParsePrintable(args[0])
	if err != nil {
		return err
	}
	end, err := codec.ParsePrintable(args[1])
	if err != nil {
		return err
	}
	return s.do(true, func(txn *mvcc.Txn, out io.Writer) error {
		return txn.ClearRange(begin, end)
	})
}

func (s *Session) atomic(args []string) error {
	op, err := mutation.ParseOpcode(args[0])
	if err != nil {
		return err
	}
	key, err := codec.ParsePrintable(args[1])
	if err != nil {
		return err
	}
	param, err := codec.ParsePrintable(args[2])
	if err != nil {
		return err
	}
	return s.do(true, func(txn *mvcc.Txn, out io.Writer) error {
		return txn.Atomic(key, op, param)
	})
}

func (s *Session) add(args []string) error {
	key, err := codec.ParsePrintable(args[0])
	if err != nil {
		return err
	}
	n, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return errors.Annotatef(err, "invalid integer %q", args[1])
	}
	return s.do(true, func(txn *mvcc.Txn, out io.Writer) error {
		return txn.Atomic(key, mutation.Add, codec.EncodeInt64(n))
	})
}

func (s *Session) getVersion(args []string) error {
	return s.do(false, func(txn *mvcc.Txn, out io.Writer) error {
		v, err := txn.GetReadVersion()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%d\n", v)
		return nil
	})
}

func (s *Session) dump(args []string) error {
	return s.db.Dump(s.out)
}

func (s *Session) help(args []string) error {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	table := tablewriter.NewWriter(s.out)
	table.SetHeader([]string{"Command", "Description"})
	table.SetAutoWrapText(false)
	for _, name := range names {
		table.Append([]string{commands[name].usage, commands[name].help})
	}
	table.Render()
	return nil
}

func (s *Session) exit(args []string) error {
	return ErrExit
}
