package lock

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Owner is the metadata a holder leaves in the lock file.
type Owner struct {
	PID       int
	Scheduler string
	At        time.Time
}

func (o Owner) encode() []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "pid: %d\n", o.PID)
	fmt.Fprintf(&b, "scheduler: %s\n", o.Scheduler)
	fmt.Fprintf(&b, "at: %s\n", o.At.UTC().Format(time.RFC3339Nano))
	return b.Bytes()
}

// String renders the owner for operators, e.g.
// "scheduler 3f2a9c (pid 812) since 4 minutes ago".
func (o Owner) String() string {
	if o.Scheduler == "" && o.PID == 0 {
		return "nobody"
	}
	s := fmt.Sprintf("scheduler %s (pid %d)", o.Scheduler, o.PID)
	if !o.At.IsZero() {
		s += " since " + humanize.Time(o.At)
	}
	return s
}

// ReadOwner parses the metadata of a lock file. An empty file yields a zero
// Owner: the lock is free or its holder is still writing.
func ReadOwner(path string) (Owner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Owner{}, err
	}
	var o Owner
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		k, v, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		v = strings.TrimSpace(v)
		switch strings.TrimSpace(k) {
		case "pid":
			o.PID, _ = strconv.Atoi(v)
		case "scheduler":
			o.Scheduler = v
		case "at":
			o.At, _ = time.Parse(time.RFC3339Nano, v)
		}
	}
	return o, sc.Err()
}
