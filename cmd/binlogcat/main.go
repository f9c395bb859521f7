package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pingcap/errors"

	"github.com/binlogkit/slave/mysql"
	"github.com/binlogkit/slave/slave"
)

var (
	addr     = flag.String("addr", "127.0.0.1:3306", "MySQL addr")
	user     = flag.String("user", "root", "MySQL user")
	password = flag.String("password", "", "MySQL password")
	gtid     = flag.Bool("gtid", false, "request the GTID binlog dump path instead of file/position")

	tables       = flag.String("tables", "", "db.table pairs to subscribe to, separated by comma")
	columns      = flag.String("columns", "", "column names to include in each row, separated by comma; empty for all")
	eventKinds   = flag.String("events", "insert,update,delete", "row-change kinds to deliver, separated by comma")
	positionFile = flag.String("position-file", "", "TOML file to persist/resume the replication position from, empty to disable")
)

func main() {
	flag.Parse()

	host, port, err := splitAddr(*addr)
	if err != nil {
		fmt.Printf("Parse addr error: %v\n", err)
		os.Exit(1)
	}

	cfg := slave.Config{
		MySQLHost:   host,
		MySQLPort:   port,
		MySQLUser:   *user,
		MySQLPass:   *password,
		GTIDEnabled: *gtid,
	}

	filter, err := parseEventKinds(*eventKinds)
	if err != nil {
		fmt.Printf("Parse events error: %v\n", err)
		os.Exit(1)
	}

	var columnFilter []string
	if len(*columns) > 0 {
		columnFilter = strings.Split(*columns, ",")
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	session := slave.NewSession(cfg, logger)

	if len(*positionFile) > 0 {
		store := slave.NewFilePositionStore(*positionFile)
		session.State.SetPositionStore(store.Load, func(p mysql.Position) {
			if err := store.Save(p); err != nil {
				logger.Error("saving replication position", slog.Any("error", err))
			}
		})
	}

	if len(*tables) == 0 {
		fmt.Println("at least one -tables db.table pair is required")
		os.Exit(1)
	}
	for _, pair := range strings.Split(*tables, ",") {
		parts := strings.SplitN(pair, ".", 2)
		if len(parts) != 2 {
			fmt.Printf("bad -tables entry %q, want db.table\n", pair)
			os.Exit(1)
		}
		session.Subscribe(parts[0], parts[1], filter, slave.RowTypeMap, columnFilter, printRecordSet)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := session.Run(ctx); err != nil {
		fmt.Printf("Run error: %v\n", errors.ErrorStack(err))
		os.Exit(1)
	}
}

func splitAddr(addr string) (string, uint16, error) {
	parts := strings.SplitN(addr, ":", 2)
	if len(parts) != 2 {
		return "", 0, errors.Errorf("addr %q must be host:port", addr)
	}
	var port int
	if _, err := fmt.Sscanf(parts[1], "%d", &port); err != nil {
		return "", 0, errors.Annotatef(err, "parsing port in %q", addr)
	}
	return parts[0], uint16(port), nil
}

func parseEventKinds(s string) (slave.EventKind, error) {
	var kind slave.EventKind
	for _, name := range strings.Split(s, ",") {
		switch strings.TrimSpace(strings.ToLower(name)) {
		case "insert":
			kind |= slave.EventInsert
		case "update":
			kind |= slave.EventUpdate
		case "delete":
			kind |= slave.EventDelete
		default:
			return 0, errors.Errorf("unknown event kind %q", name)
		}
	}
	if kind == 0 {
		return 0, errors.New("no event kinds given")
	}
	return kind, nil
}

func printRecordSet(rs *slave.RecordSet) {
	buf, err := slave.MarshalRecordSet(rs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "marshal record set: %v\n", err)
		return
	}
	fmt.Println(string(buf))
}
