package coordinator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/itsneelabh/gomind-refine/core"
)

// mailbox is the file-based request/processing/results/handoffs/logs
// folder layout. All moves between folders are atomic renames.
type mailbox struct {
	root string
}

func newMailbox(root string) (*mailbox, error) {
	m := &mailbox{root: root}
	for _, dir := range []string{"requests", "processing", "results", "handoffs", "logs", "context"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, core.NewFrameworkError("mailbox.init", core.KindResource, fmt.Errorf("create %s: %w", dir, err))
		}
	}
	return m, nil
}

func (m *mailbox) path(folder, name string) string {
	return filepath.Join(m.root, folder, name)
}

// writeAtomic writes data to folder/name by writing to a temp file in the
// same directory then renaming, so readers never observe a partial file.
func (m *mailbox) writeAtomic(folder, name string, data []byte) error {
	dst := m.path(folder, name)
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return core.NewFrameworkError("mailbox.write", core.KindResource, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return core.NewFrameworkError("mailbox.write", core.KindResource, err)
	}
	return nil
}

// move performs an atomic rename of name from one mailbox folder to
// another.
func (m *mailbox) move(fromFolder, toFolder, name string) error {
	if err := os.Rename(m.path(fromFolder, name), m.path(toFolder, name)); err != nil {
		return core.NewFrameworkError("mailbox.move", core.KindResource, err)
	}
	return nil
}

func (m *mailbox) writeRequest(req *Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return core.NewFrameworkError("mailbox.writeRequest", core.KindInvalidInput, err)
	}
	return m.writeAtomic("requests", req.RequestID+".json", data)
}

func (m *mailbox) writeResult(res *Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return core.NewFrameworkError("mailbox.writeResult", core.KindInvalidInput, err)
	}
	return m.writeAtomic("results", res.RequestID+".json", data)
}

func (m *mailbox) writeHandoff(h *Handoff) error {
	data, err := json.Marshal(h)
	if err != nil {
		return core.NewFrameworkError("mailbox.writeHandoff", core.KindInvalidInput, err)
	}
	return m.writeAtomic("handoffs", h.FromRequestID+"__"+h.ToRequestID+".json", data)
}

func (m *mailbox) readResult(requestID string) (*Result, bool) {
	data, err := os.ReadFile(m.path("results", requestID+".json"))
	if err != nil {
		return nil, false
	}
	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, false
	}
	return &res, true
}

// pendingRequests lists requests/ sorted by file mtime, oldest first, per
// spec.md §4.5's scheduling rule.
func (m *mailbox) pendingRequests() ([]*Request, error) {
	dir := filepath.Join(m.root, "requests")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, core.NewFrameworkError("mailbox.pendingRequests", core.KindResource, err)
	}

	type withTime struct {
		req     *Request
		modTime int64
	}
	var items []withTime
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}
		items = append(items, withTime{req: &req, modTime: info.ModTime().UnixNano()})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].modTime < items[j].modTime })

	reqs := make([]*Request, len(items))
	for i, it := range items {
		reqs[i] = it.req
	}
	return reqs, nil
}

func (m *mailbox) appendLog(requestID string, line string) {
	f, err := os.OpenFile(m.path("logs", requestID+".stream"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.WriteString(line + "\n")
}

// writeContextFile persists an out-of-line context payload, returning the
// path the Request should reference.
func (m *mailbox) writeContextFile(requestID, content string) (string, error) {
	path := m.path("context", requestID+".ctx")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", core.NewFrameworkError("mailbox.writeContextFile", core.KindResource, err)
	}
	return path, nil
}
