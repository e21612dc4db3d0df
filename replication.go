package trombi

import "context"

type replicationRequest struct {
	Source       string `json:"source"`
	Target       string `json:"target"`
	CreateTarget bool   `json:"create_target"`
	Continuous   bool   `json:"continuous"`
	Cancel       bool   `json:"cancel,omitempty"`
}

// Replication is a handle to a replication the server was asked to run.
type Replication struct {
	source     *Database
	target     *Database
	continuous bool
}

// Source returns the replication source.
func (r *Replication) Source() *Database { return r.source }

// Target returns the replication target.
func (r *Replication) Target() *Database { return r.target }

// Continuous reports whether the replication keeps running after catching
// up.
func (r *Replication) Continuous() bool { return r.continuous }

// ReplicateTo asks the server to replicate this database into target,
// creating the target database when it does not exist. The target may
// live on a different host. With continuous enabled the server keeps the
// replication running until it is cancelled.
func (db *Database) ReplicateTo(ctx context.Context, target *Database, continuous bool) (*Replication, error) {
	req := replicationRequest{
		Source:       db.URL(),
		Target:       target.URL(),
		CreateTarget: true,
		Continuous:   continuous,
	}
	if err := db.server.replicate(ctx, req); err != nil {
		return nil, err
	}
	return &Replication{source: db, target: target, continuous: continuous}, nil
}

// Cancel stops a continuously running replication.
func (r *Replication) Cancel(ctx context.Context) error {
	req := replicationRequest{
		Source:       r.source.URL(),
		Target:       r.target.URL(),
		CreateTarget: true,
		Continuous:   r.continuous,
		Cancel:       true,
	}
	return r.source.server.replicate(ctx, req)
}

func (s *Server) replicate(ctx context.Context, req replicationRequest) error {
	body, err := s.marshal(req)
	if err != nil {
		return err
	}
	status, respBody, err := s.fetch(ctx, "POST", s.baseURL+"/_replicate", "", body)
	if err != nil {
		return err
	}
	switch status {
	case 200, 202:
		return nil
	default:
		return classify(status, respBody, baseTable)
	}
}
