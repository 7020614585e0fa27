package registry

import (
	"encoding/json"
	"strings"

	"github.com/darkvelocity/retailcore/internal/platform/apierr"
)

// LocationNode is one node in a site's location tree (e.g. a storage
// area, a shelf, a walk-in cooler). ParentID is empty for a root node.
type LocationNode struct {
	ID       string
	ParentID string
	Name     string
	Path     string
}

// LocationTreeState is the full, pure, replayable state of one site's
// location tree.
type LocationTreeState struct {
	OrgID   string
	SiteID  string
	Nodes   map[string]LocationNode
	Version int64
}

func (s *LocationTreeState) ensureMap() {
	if s.Nodes == nil {
		s.Nodes = make(map[string]LocationNode)
	}
}

// LocationTreeEngine applies commands to a LocationTreeState.
type LocationTreeEngine struct{}

// NewLocationTreeEngine builds a LocationTreeEngine.
func NewLocationTreeEngine() *LocationTreeEngine { return &LocationTreeEngine{} }

// LocationEmitted is one event raised by a location-tree command.
type LocationEmitted struct {
	Type    string
	Payload any
}

// AddNodeParams is the payload for AddNode.
type AddNodeParams struct {
	ID       string
	ParentID string
	Name     string
}

// AddNode inserts a new node under ParentID (empty for a root node).
func (e *LocationTreeEngine) AddNode(s *LocationTreeState, p AddNodeParams) ([]LocationEmitted, error) {
	s.ensureMap()
	if _, exists := s.Nodes[p.ID]; exists {
		return nil, apierr.ErrConflict("location " + p.ID + " already exists")
	}
	if p.ParentID != "" {
		if _, ok := s.Nodes[p.ParentID]; !ok {
			return nil, apierr.ErrPreconditionViolation("parent location " + p.ParentID + " does not exist")
		}
	}
	return []LocationEmitted{{Type: "LocationAdded", Payload: p}}, nil
}

// RenameParams is the payload for Rename.
type RenameParams struct {
	ID      string
	NewName string
}

// Rename changes a node's name; its own and every descendant's cached
// path is rebuilt downstream in apply.
func (e *LocationTreeEngine) Rename(s *LocationTreeState, p RenameParams) ([]LocationEmitted, error) {
	s.ensureMap()
	if _, ok := s.Nodes[p.ID]; !ok {
		return nil, apierr.ErrPreconditionViolation("location " + p.ID + " does not exist")
	}
	return []LocationEmitted{{Type: "LocationRenamed", Payload: p}}, nil
}

// MoveParams is the payload for Move.
type MoveParams struct {
	ID          string
	NewParentID string
}

// Move reparents a node, enforcing acyclicity: the new parent can
// neither be the node itself nor any node in its current subtree.
func (e *LocationTreeEngine) Move(s *LocationTreeState, p MoveParams) ([]LocationEmitted, error) {
	s.ensureMap()
	if _, ok := s.Nodes[p.ID]; !ok {
		return nil, apierr.ErrPreconditionViolation("location " + p.ID + " does not exist")
	}
	if p.NewParentID != "" {
		if _, ok := s.Nodes[p.NewParentID]; !ok {
			return nil, apierr.ErrPreconditionViolation("parent location " + p.NewParentID + " does not exist")
		}
		if p.NewParentID == p.ID || s.isDescendant(p.NewParentID, p.ID) {
			return nil, apierr.ErrPreconditionViolation("move would create a cycle: " + p.NewParentID + " is in the subtree of " + p.ID)
		}
	}
	return []LocationEmitted{{Type: "LocationMoved", Payload: p}}, nil
}

// isDescendant reports whether candidate is in ancestor's subtree, by
// walking candidate's parent chain up to the root.
func (s *LocationTreeState) isDescendant(candidate, ancestor string) bool {
	seen := map[string]bool{}
	for cur := candidate; cur != ""; {
		if seen[cur] {
			return false // defend against a corrupt cycle already in the tree
		}
		seen[cur] = true
		if cur == ancestor {
			return true
		}
		node, ok := s.Nodes[cur]
		if !ok {
			return false
		}
		cur = node.ParentID
	}
	return false
}

// rebuildPath recomputes Path for id by walking up to the root, then
// recurses into every child so the whole subtree's cached paths stay
// consistent after a rename or move.
func (s *LocationTreeState) rebuildPath(id string) {
	node, ok := s.Nodes[id]
	if !ok {
		return
	}
	if node.ParentID == "" {
		node.Path = "/" + node.Name
	} else if parent, ok := s.Nodes[node.ParentID]; ok {
		node.Path = strings.TrimRight(parent.Path, "/") + "/" + node.Name
	}
	s.Nodes[id] = node

	for childID, child := range s.Nodes {
		if child.ParentID == id {
			s.rebuildPath(childID)
		}
	}
}

func applyLocationEvent(s *LocationTreeState, eventType string, payload json.RawMessage) {
	s.ensureMap()
	switch eventType {
	case "LocationAdded":
		var p AddNodeParams
		json.Unmarshal(payload, &p)
		s.Nodes[p.ID] = LocationNode{ID: p.ID, ParentID: p.ParentID, Name: p.Name}
		s.rebuildPath(p.ID)
	case "LocationRenamed":
		var p RenameParams
		json.Unmarshal(payload, &p)
		if node, ok := s.Nodes[p.ID]; ok {
			node.Name = p.NewName
			s.Nodes[p.ID] = node
			s.rebuildPath(p.ID)
		}
	case "LocationMoved":
		var p MoveParams
		json.Unmarshal(payload, &p)
		if node, ok := s.Nodes[p.ID]; ok {
			node.ParentID = p.NewParentID
			s.Nodes[p.ID] = node
			s.rebuildPath(p.ID)
		}
	}
}
