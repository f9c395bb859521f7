package slave

import (
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pingcap/errors"

	"github.com/binlogkit/slave/mysql"
)

// minMasterVersion is the oldest master this module will attach to, 5.1.23,
// the release the row-based replication protocol it speaks requires.
const minMasterVersion = 50123

// BootstrapInfo is what Bootstrap learns about a master before a session can
// start dumping: its version, whether it runs in GTID mode, and the
// position a fresh (no persisted position) session should start from.
type BootstrapInfo struct {
	ServerVersion string
	MasterVersion int
	GTIDMode      bool
	Position      mysql.Position
}

// Bootstrap runs the one-time checks the original implementation's
// Slave::init and get_remote_binlog prologue perform before the first
// COM_REGISTER_SLAVE: master version range, binlog_format, gtid_mode
// agreement, and (unless a persisted position overrides it) the master's
// current end-of-log position.
func Bootstrap(db *sqlx.DB, wantGTID bool) (*BootstrapInfo, error) {
	info := &BootstrapInfo{}

	version, err := queryScalar(db, "SELECT VERSION()")
	if err != nil {
		return nil, errors.Annotate(err, "slave: could not SELECT VERSION()")
	}
	info.ServerVersion = version
	info.MasterVersion, err = parseVersionNumber(version)
	if err != nil {
		return nil, errors.Annotatef(err, "slave: got invalid version %q", version)
	}
	if info.MasterVersion < minMasterVersion {
		return nil, errors.Errorf("slave: master version %q is older than the minimum supported 5.1.23", version)
	}

	format, err := queryGlobalVariable(db, "binlog_format")
	if err != nil {
		return nil, errors.Annotate(err, "slave: could not check binlog_format")
	}
	if format != "ROW" {
		return nil, errors.Errorf("slave: master binlog_format is %q, row-based replication requires ROW", format)
	}

	gtidMode, err := queryGlobalVariable(db, "gtid_mode")
	if err != nil {
		return nil, errors.Annotate(err, "slave: could not check gtid_mode")
	}
	info.GTIDMode = gtidMode == "ON"
	if wantGTID && !info.GTIDMode {
		return nil, errors.Errorf("slave: GTID mode requested but master gtid_mode is %q", gtidMode)
	}

	info.Position, err = lastBinlogPosition(db, info.GTIDMode)
	if err != nil {
		return nil, errors.Annotate(err, "slave: could not read SHOW MASTER STATUS")
	}

	return info, nil
}

// GenerateServerID picks a server_id that SHOW SLAVE HOSTS does not already
// report in use, seeded from the process clock and pid the way the original
// implementation's generateSlaveId does (a collision only means a neighbor
// picked the same second and pid, not a real protocol conflict).
func GenerateServerID(db *sqlx.DB, now time.Time) (uint32, error) {
	rows, err := db.Queryx("SHOW SLAVE HOSTS")
	if err != nil {
		return 0, errors.Annotate(err, "slave: SHOW SLAVE HOSTS")
	}
	defer rows.Close()

	used := make(map[uint32]struct{})
	for rows.Next() {
		row := make(map[string]interface{})
		if err := rows.MapScan(row); err != nil {
			return 0, errors.Annotate(err, "slave: SHOW SLAVE HOSTS")
		}
		if v, ok := row["Server_id"]; ok {
			used[toUint32(v)] = struct{}{}
		}
	}
	if err := rows.Err(); err != nil {
		return 0, errors.Annotate(err, "slave: SHOW SLAVE HOSTS")
	}

	id := uint32(now.Unix())
	id ^= uint32(os.Getpid()) << 16
	for {
		if _, ok := used[id]; !ok {
			return id, nil
		}
		id++
	}
}

func toUint32(v interface{}) uint32 {
	switch n := v.(type) {
	case int64:
		return uint32(n)
	case []byte:
		u, _ := strconv.ParseUint(string(n), 10, 32)
		return uint32(u)
	case string:
		u, _ := strconv.ParseUint(n, 10, 32)
		return uint32(u)
	default:
		return 0
	}
}

func queryScalar(db *sqlx.DB, query string) (string, error) {
	var v string
	if err := db.Get(&v, query); err != nil {
		return "", err
	}
	return v, nil
}

// queryGlobalVariable runs SHOW GLOBAL VARIABLES LIKE '<name>' and returns
// the Value column, erroring if the variable is not reported at all (an
// unrecognized system variable reads as an empty, not a missing, value on
// every supported master).
func queryGlobalVariable(db *sqlx.DB, name string) (string, error) {
	rows, err := db.Queryx(fmt.Sprintf("SHOW GLOBAL VARIABLES LIKE '%s'", name))
	if err != nil {
		return "", err
	}
	defer rows.Close()

	if !rows.Next() {
		return "", errors.Errorf("SHOW GLOBAL VARIABLES LIKE '%s' returned no rows", name)
	}
	var varName, value string
	if err := rows.Scan(&varName, &value); err != nil {
		return "", err
	}
	return value, nil
}

func lastBinlogPosition(db *sqlx.DB, gtidMode bool) (mysql.Position, error) {
	rows, err := db.Queryx("SHOW MASTER STATUS")
	if err != nil {
		return mysql.Position{}, err
	}
	defer rows.Close()

	if !rows.Next() {
		return mysql.Position{}, errors.New("SHOW MASTER STATUS returned no rows (is log_bin enabled?)")
	}
	cols, err := rows.Columns()
	if err != nil {
		return mysql.Position{}, err
	}
	values := make([]sql.RawBytes, len(cols))
	scanArgs := make([]interface{}, len(cols))
	for i := range values {
		scanArgs[i] = &values[i]
	}
	if err := rows.Scan(scanArgs...); err != nil {
		return mysql.Position{}, err
	}

	row := make(map[string]string, len(cols))
	for i, name := range cols {
		row[name] = string(values[i])
	}

	logName, ok := row["File"]
	if !ok {
		return mysql.Position{}, errors.New("SHOW MASTER STATUS did not return 'File'")
	}
	posStr, ok := row["Position"]
	if !ok {
		return mysql.Position{}, errors.New("SHOW MASTER STATUS did not return 'Position'")
	}
	pos, err := strconv.ParseUint(posStr, 10, 32)
	if err != nil {
		return mysql.Position{}, errors.Annotate(err, "parsing Position")
	}

	position := mysql.NewPosition(logName, uint32(pos))
	if gtidMode {
		if gset, ok := row["Executed_Gtid_Set"]; ok && gset != "" {
			parsed, err := mysql.ParseGTIDSet(gset)
			if err != nil {
				return mysql.Position{}, errors.Annotate(err, "parsing Executed_Gtid_Set")
			}
			position.GTIDSet = parsed
		}
	}
	return position, nil
}

// parseVersionNumber matches sscanf("%d.%d.%d") against a server's
// VERSION() string, collapsing it to the same major*10000+minor*100+patch
// form the original implementation compares against its minimum.
func parseVersionNumber(v string) (int, error) {
	var major, minor, patch int
	n, _ := fmt.Sscanf(v, "%d.%d.%d", &major, &minor, &patch)
	if n != 3 {
		return 0, errors.Errorf("could not parse major.minor.patch from %q", v)
	}
	return major*10000 + minor*100 + patch, nil
}
