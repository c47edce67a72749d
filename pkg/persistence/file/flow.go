package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
	"gopkg.in/yaml.v3"
)

var flowExtensions = []string{".json", ".yaml", ".yml"}

// Flows returns the latest version of every flow found under flows/.
func (p *Persistence) Flows(_ context.Context) ([]*models.Flow, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entries, err := os.ReadDir(p.path("flows"))
	if err != nil {
		if isNotExist(err) {
			return make([]*models.Flow, 0), nil
		}

		return nil, fmt.Errorf("failed to list flows: %w", err)
	}

	flows := make([]*models.Flow, 0, len(entries))

	for _, entry := range entries {
		if !entry.IsDir() || checkID(entry.Name()) != nil {
			continue
		}

		flow, err := p.latestFlow(entry.Name())
		if err != nil {
			if persistence.IsFlowNotFound(err) {
				continue
			}

			return nil, err
		}

		flows = append(flows, flow)
	}

	sort.Slice(flows, func(i, j int) bool { return flows[i].ID < flows[j].ID })

	return flows, nil
}

// FlowByID returns the highest version of a flow.
func (p *Persistence) FlowByID(_ context.Context, id string) (*models.Flow, error) {
	if err := checkID(id); err != nil {
		return nil, persistence.NewFlowError("FlowByID", id, err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.latestFlow(id)
}

// FlowVersion returns one version of a flow.
func (p *Persistence) FlowVersion(_ context.Context, id string, version int) (*models.Flow, error) {
	if err := checkID(id); err != nil {
		return nil, persistence.NewFlowError("FlowVersion", id, err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, ext := range flowExtensions {
		flow, err := readFlow(p.path("flows", id, "v"+strconv.Itoa(version)+ext))
		if isNotExist(err) {
			continue
		}

		if err != nil {
			return nil, persistence.NewFlowVersionError("FlowVersion", id, version, err)
		}

		return normalizeFlow(flow, id, version), nil
	}

	return nil, persistence.NewFlowVersionError("FlowVersion", id, version, persistence.ErrFlowNotFound)
}

// SaveFlow writes flow as a new JSON version file.
func (p *Persistence) SaveFlow(_ context.Context, flow *models.Flow) error {
	if err := checkID(flow.ID); err != nil {
		return persistence.NewFlowError("SaveFlow", flow.ID, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	versions, err := p.versions(flow.ID)
	if err != nil {
		return persistence.NewFlowError("SaveFlow", flow.ID, err)
	}

	if flow.Version == 0 {
		flow.Version = 1
		if len(versions) > 0 {
			flow.Version = versions[len(versions)-1] + 1
		}
	}

	for _, v := range versions {
		if v == flow.Version {
			return persistence.NewFlowVersionError("SaveFlow", flow.ID, flow.Version, persistence.ErrFlowVersionExists)
		}
	}

	if flow.CreatedAt.IsZero() {
		flow.CreatedAt = time.Now().UTC()
	}

	err = writeJSON(p.path("flows", flow.ID, "v"+strconv.Itoa(flow.Version)+".json"), flow)
	if err != nil {
		return persistence.NewFlowVersionError("SaveFlow", flow.ID, flow.Version, err)
	}

	return nil
}

func (p *Persistence) latestFlow(id string) (*models.Flow, error) {
	versions, err := p.versions(id)
	if err != nil {
		return nil, persistence.NewFlowError("FlowByID", id, err)
	}

	if len(versions) == 0 {
		return nil, persistence.NewFlowError("FlowByID", id, persistence.ErrFlowNotFound)
	}

	latest := versions[len(versions)-1]

	for _, ext := range flowExtensions {
		flow, err := readFlow(p.path("flows", id, "v"+strconv.Itoa(latest)+ext))
		if isNotExist(err) {
			continue
		}

		if err != nil {
			return nil, persistence.NewFlowVersionError("FlowByID", id, latest, err)
		}

		return normalizeFlow(flow, id, latest), nil
	}

	return nil, persistence.NewFlowError("FlowByID", id, persistence.ErrFlowNotFound)
}

// versions lists the stored versions of a flow in ascending order.
func (p *Persistence) versions(id string) ([]int, error) {
	entries, err := os.ReadDir(p.path("flows", id))
	if err != nil {
		if isNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to list versions: %w", err)
	}

	seen := make(map[int]bool)
	versions := make([]int, 0, len(entries))

	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		name := strings.TrimSuffix(entry.Name(), ext)

		if entry.IsDir() || !isFlowExtension(ext) || !strings.HasPrefix(name, "v") {
			continue
		}

		v, err := strconv.Atoi(name[1:])
		if err != nil || v < 1 || seen[v] {
			continue
		}

		seen[v] = true
		versions = append(versions, v)
	}

	sort.Ints(versions)

	return versions, nil
}

func isFlowExtension(ext string) bool {
	for _, e := range flowExtensions {
		if e == ext {
			return true
		}
	}

	return false
}

func readFlow(path string) (*models.Flow, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var flow models.Flow

	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(body, &flow)
	default:
		err = json.Unmarshal(body, &flow)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	return &flow, nil
}

// normalizeFlow fills identity fields a hand-written file may omit.
func normalizeFlow(flow *models.Flow, id string, version int) *models.Flow {
	if flow.ID == "" {
		flow.ID = id
	}

	if flow.Version == 0 {
		flow.Version = version
	}

	for _, t := range flow.Triggers {
		if t.FlowID == "" {
			t.FlowID = flow.ID
		}
	}

	return flow
}
