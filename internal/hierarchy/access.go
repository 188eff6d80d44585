package hierarchy

import (
	"sort"
	"strings"
	"time"

	"github.com/duke-git/lancet/v2/maputil"
	"go.uber.org/zap"

	"yqhp/orchestration-engine/internal/events"
)

// TimeWindow bounds when a grant is usable. Zero values are open-ended.
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// AccessRequest is an explicit request for access to another node's context.
type AccessRequest struct {
	RequesterID     string      `json:"requestingNodeId"`
	TargetID        string      `json:"targetNodeId"`
	AccessType      string      `json:"accessType"`
	UserID          string      `json:"userId"`
	Properties      []string    `json:"requestedProperties,omitempty"`
	Window          *TimeWindow `json:"timeWindow,omitempty"`
	EmergencyAccess bool        `json:"emergencyAccess,omitempty"`
	Reason          string      `json:"reason,omitempty"`
}

// AccessGrant is the outcome of a successful AccessRequest.
type AccessGrant struct {
	RequesterID       string         `json:"requestingNodeId"`
	TargetID          string         `json:"targetNodeId"`
	Relationship      Relationship   `json:"relationship"`
	AccessLevel       AccessLevel    `json:"accessLevel"`
	GrantedProperties []string       `json:"grantedProperties,omitempty"`
	DeniedProperties  []string       `json:"deniedProperties,omitempty"`
	Data              map[string]any `json:"data"`
	Emergency         bool           `json:"emergency,omitempty"`
	Reason            string         `json:"reason,omitempty"`
	GrantedAt         time.Time      `json:"grantedAt"`
	ExpiresAt         *time.Time     `json:"expiresAt,omitempty"`
}

// RequestAccess evaluates a request against the structural relationship.
// A relation that grants less than requested always fails with
// ErrCodeInsufficientAccess. EmergencyAccess with a reason only opens a
// closed time window; such grants expire after at most the configured
// emergency window.
func (s *Service) RequestAccess(req AccessRequest) (*AccessGrant, error) {
	if req.RequesterID == "" {
		return nil, newError(ErrCodeInvalidRequester, "", "requesting node id is required")
	}
	if req.TargetID == "" {
		return nil, newError(ErrCodeInvalidTarget, "", "target node id is required")
	}
	requested, ok := ParseAccessLevel(req.AccessType)
	if !ok {
		return nil, newError(ErrCodeInvalidAccessType, req.TargetID, "invalid access type: "+req.AccessType)
	}
	if strings.TrimSpace(req.UserID) == "" {
		return nil, newError(ErrCodeMissingUserID, req.TargetID, "user id is required")
	}

	s.mu.RLock()
	rel, err := s.resolveLocked(req.RequesterID, req.TargetID)
	var data map[string]any
	if err == nil {
		data = s.viewLocked(req.TargetID, rel).Context.ContextData
	}
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	now := s.now()
	grant := &AccessGrant{
		RequesterID:  req.RequesterID,
		TargetID:     req.TargetID,
		Relationship: rel,
		AccessLevel:  requested,
		GrantedAt:    now,
	}

	inWindow := req.Window == nil ||
		((req.Window.Start.IsZero() || !now.Before(req.Window.Start)) &&
			(req.Window.End.IsZero() || now.Before(req.Window.End)))
	sufficient := rel.Grants(requested)

	switch {
	case !sufficient:
		return nil, newError(ErrCodeInsufficientAccess, req.TargetID, "insufficient access level")
	case inWindow:
		if req.Window != nil && !req.Window.End.IsZero() {
			end := req.Window.End
			grant.ExpiresAt = &end
		}
	case req.EmergencyAccess:
		if strings.TrimSpace(req.Reason) == "" {
			return nil, newError(ErrCodeEmergencyReason, req.TargetID, "emergency access requires a reason")
		}
		expires := now.Add(s.emergencyMax)
		if req.Window != nil && !req.Window.End.IsZero() && req.Window.End.After(now) && req.Window.End.Before(expires) {
			expires = req.Window.End
		}
		grant.Emergency = true
		grant.Reason = req.Reason
		grant.ExpiresAt = &expires
	default:
		return nil, newError(ErrCodeWindowClosed, req.TargetID, "request is outside its access window")
	}

	grant.Data, grant.GrantedProperties, grant.DeniedProperties = selectProperties(data, req.Properties)

	eventType := events.ContextAccessGranted
	if grant.Emergency {
		eventType = events.EmergencyAccessGranted
		s.log.Warn("emergency context access granted",
			zap.String("requester", req.RequesterID),
			zap.String("target", req.TargetID),
			zap.String("user_id", req.UserID),
			zap.String("reason", req.Reason),
			zap.Timep("expires_at", grant.ExpiresAt))
	}
	payload := map[string]any{
		"requesterId":  req.RequesterID,
		"relationship": string(rel),
		"accessLevel":  string(grant.AccessLevel),
	}
	if grant.Emergency {
		payload["reason"] = req.Reason
		payload["expiresAt"] = grant.ExpiresAt.Format(time.RFC3339)
	}
	s.publisher.Publish(events.Event{
		Type:        eventType,
		AggregateID: req.TargetID,
		NodeID:      req.TargetID,
		UserID:      req.UserID,
		Data:        payload,
	})
	return grant, nil
}

// selectProperties grants the requested keys that exist in data and denies
// the rest. An empty request grants the whole map.
func selectProperties(data map[string]any, requested []string) (map[string]any, []string, []string) {
	if len(requested) == 0 {
		keys := maputil.Keys(data)
		sort.Strings(keys)
		return data, keys, nil
	}
	out := make(map[string]any)
	var granted, denied []string
	for _, k := range requested {
		if v, ok := data[k]; ok {
			out[k] = v
			granted = append(granted, k)
		} else {
			denied = append(denied, k)
		}
	}
	return out, granted, denied
}
