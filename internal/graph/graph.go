// Package graph mirrors findings, resources, and correlation groups into
// Neo4j so operators can explore blast radius and shared-resource exposure
// with graph queries the relational store cannot answer cheaply.
package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/secfuse/secfuse/internal/models"
)

type Graph struct {
	driver neo4j.DriverWithContext
}

type Config struct {
	URI      string
	Username string
	Password string
}

// Store is the slice of the record store the sync needs.
type Store interface {
	RecentWindow(ctx context.Context, since time.Time) ([]models.Finding, error)
	ListGroups(ctx context.Context) ([]models.FindingGroup, error)
}

func New(cfg Config) (*Graph, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}

	ctx := context.Background()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("verifying neo4j connectivity: %w", err)
	}

	g := &Graph{driver: driver}

	if err := g.createIndexes(ctx); err != nil {
		return nil, fmt.Errorf("creating indexes: %w", err)
	}

	return g, nil
}

func (g *Graph) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

func (g *Graph) createIndexes(ctx context.Context) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS FOR (n:Finding) ON (n.identity)",
		"CREATE INDEX IF NOT EXISTS FOR (n:Resource) ON (n.arn)",
		"CREATE INDEX IF NOT EXISTS FOR (n:Principal) ON (n.arn)",
		"CREATE INDEX IF NOT EXISTS FOR (n:Group) ON (n.id)",
		"CREATE INDEX IF NOT EXISTS FOR (n:CloudAccount) ON (n.id)",
	}

	for _, idx := range indexes {
		_, err := session.Run(ctx, idx, nil)
		if err != nil {
			return fmt.Errorf("creating index: %w", err)
		}
	}

	return nil
}

func (g *Graph) UpsertFinding(ctx context.Context, f *models.Finding) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	query := `
		MERGE (f:Finding {identity: $identity})
		SET f.checkId = $checkId,
			f.title = $title,
			f.severity = $severity,
			f.workflowState = $workflowState,
			f.sourceProduct = $sourceProduct,
			f.sourceClass = $sourceClass,
			f.lastObservedAt = $lastObservedAt
		WITH f
		MERGE (r:Resource {arn: $resourceArn})
		SET r.type = $resourceType,
			r.region = $resourceRegion
		MERGE (f)-[:AFFECTS]->(r)
		WITH f, r
		MERGE (acc:CloudAccount {id: $accountId})
		MERGE (r)-[:BELONGS_TO]->(acc)
	`

	params := map[string]interface{}{
		"identity":       f.Identity,
		"checkId":        f.CheckID,
		"title":          f.Title,
		"severity":       f.Severity.String(),
		"workflowState":  string(f.WorkflowState),
		"sourceProduct":  f.SourceProduct,
		"sourceClass":    string(f.SourceClass),
		"lastObservedAt": f.LastObservedAt.Format(time.RFC3339),
		"resourceArn":    f.Resource.ARN,
		"resourceType":   f.Resource.Type,
		"resourceRegion": f.Resource.Region,
		"accountId":      f.Resource.AccountID,
	}

	if _, err := session.Run(ctx, query, params); err != nil {
		return err
	}

	if f.Principal != "" {
		query = `
			MATCH (f:Finding {identity: $identity})
			MERGE (p:Principal {arn: $principalArn})
			MERGE (f)-[:INVOLVES]->(p)
		`
		if _, err := session.Run(ctx, query, map[string]interface{}{
			"identity":     f.Identity,
			"principalArn": f.Principal,
		}); err != nil {
			return err
		}
	}

	return nil
}

// UpsertGroup replaces the MEMBER_OF edges of a correlation group so the
// graph converges to the store's current membership.
func (g *Graph) UpsertGroup(ctx context.Context, group *models.FindingGroup) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	query := `
		MERGE (grp:Group {id: $id})
		SET grp.reason = $reason,
			grp.memberCount = $memberCount,
			grp.updatedAt = $updatedAt
		WITH grp
		OPTIONAL MATCH (old:Finding)-[r:MEMBER_OF]->(grp)
		WHERE NOT old.identity IN $members
		DELETE r
		WITH grp
		UNWIND $members AS member
		MATCH (f:Finding {identity: member})
		MERGE (f)-[:MEMBER_OF]->(grp)
	`

	_, err := session.Run(ctx, query, map[string]interface{}{
		"id":          group.ID,
		"reason":      string(group.Reason),
		"memberCount": len(group.Members),
		"updatedAt":   group.UpdatedAt.Format(time.RFC3339),
		"members":     []string(group.Members),
	})

	return err
}

// Sync projects recent findings and all current groups into the graph. Run
// on a schedule; stale findings age out of relevance rather than being
// deleted.
func (g *Graph) Sync(ctx context.Context, store Store, window time.Duration) error {
	findings, err := store.RecentWindow(ctx, time.Now().UTC().Add(-window))
	if err != nil {
		return fmt.Errorf("loading recent findings: %w", err)
	}

	for i := range findings {
		if err := g.UpsertFinding(ctx, &findings[i]); err != nil {
			return fmt.Errorf("upserting finding %s: %w", findings[i].Identity, err)
		}
	}

	groups, err := store.ListGroups(ctx)
	if err != nil {
		return fmt.Errorf("loading groups: %w", err)
	}

	for i := range groups {
		if err := g.UpsertGroup(ctx, &groups[i]); err != nil {
			return fmt.Errorf("upserting group %s: %w", groups[i].ID, err)
		}
	}

	return nil
}

type ExposureRecord struct {
	ResourceARN string   `json:"resource_arn"`
	AccountID   string   `json:"account_id"`
	Findings    []string `json:"findings"`
	MaxSeverity string   `json:"max_severity"`
}

// FindSharedResources returns resources with open findings from more than
// one source product, the cases where scanner overlap survived dedup because
// the findings are genuinely distinct checks.
func (g *Graph) FindSharedResources(ctx context.Context, accountID string) ([]ExposureRecord, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	query := `
		MATCH (f:Finding)-[:AFFECTS]->(r:Resource)-[:BELONGS_TO]->(acc:CloudAccount)
		WHERE f.workflowState <> 'RESOLVED'
	`

	if accountID != "" {
		query += ` AND acc.id = $accountId`
	}

	query += `
		WITH r, acc, collect(f) AS findings, collect(DISTINCT f.sourceProduct) AS products
		WHERE size(products) > 1
		RETURN r.arn AS arn,
			   acc.id AS accountId,
			   [f IN findings | f.identity] AS identities
		LIMIT 100
	`

	params := map[string]interface{}{}
	if accountID != "" {
		params["accountId"] = accountID
	}

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}

	var records []ExposureRecord
	for result.Next(ctx) {
		rec := result.Record()
		arn, _ := rec.Get("arn")
		account, _ := rec.Get("accountId")
		identities, _ := rec.Get("identities")

		record := ExposureRecord{
			ResourceARN: arn.(string),
			AccountID:   account.(string),
		}

		if ids, ok := identities.([]interface{}); ok {
			for _, id := range ids {
				if s, ok := id.(string); ok {
					record.Findings = append(record.Findings, s)
				}
			}
		}

		records = append(records, record)
	}

	return records, nil
}

type BlastRadiusResult struct {
	Identity  string   `json:"identity"`
	Resources []string `json:"resources"`
	HopCount  int      `json:"hop_count"`
}

// BlastRadius walks from a finding through its group and principal links to
// the resources reachable within maxHops relationship traversals.
func (g *Graph) BlastRadius(ctx context.Context, identity string, maxHops int) ([]BlastRadiusResult, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	query := `
		MATCH path = (f:Finding {identity: $identity})-[:MEMBER_OF|AFFECTS|INVOLVES*1..` + fmt.Sprintf("%d", maxHops) + `]-(r:Resource)
		RETURN f.identity AS identity,
			   collect(DISTINCT r.arn) AS resources,
			   min(length(path)) AS hops
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"identity": identity,
	})
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}

	var results []BlastRadiusResult
	for result.Next(ctx) {
		rec := result.Record()
		id, _ := rec.Get("identity")
		resources, _ := rec.Get("resources")
		hops, _ := rec.Get("hops")

		r := BlastRadiusResult{
			Identity: id.(string),
			HopCount: int(hops.(int64)),
		}

		if arns, ok := resources.([]interface{}); ok {
			for _, a := range arns {
				if s, ok := a.(string); ok {
					r.Resources = append(r.Resources, s)
				}
			}
		}

		results = append(results, r)
	}

	return results, nil
}

type GraphStats struct {
	FindingCount  int            `json:"finding_count"`
	ResourceCount int            `json:"resource_count"`
	GroupCount    int            `json:"group_count"`
	BySeverity    map[string]int `json:"by_severity"`
}

func (g *Graph) GetStats(ctx context.Context) (*GraphStats, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	stats := &GraphStats{BySeverity: make(map[string]int)}

	result, err := session.Run(ctx, `MATCH (f:Finding) RETURN f.severity AS severity, count(f) AS count`, nil)
	if err == nil {
		for result.Next(ctx) {
			rec := result.Record()
			severity, _ := rec.Get("severity")
			count, _ := rec.Get("count")
			stats.BySeverity[severity.(string)] = int(count.(int64))
			stats.FindingCount += int(count.(int64))
		}
	}

	result, err = session.Run(ctx, `MATCH (r:Resource) RETURN count(r) AS count`, nil)
	if err == nil && result.Next(ctx) {
		count, _ := result.Record().Get("count")
		stats.ResourceCount = int(count.(int64))
	}

	result, err = session.Run(ctx, `MATCH (g:Group) RETURN count(g) AS count`, nil)
	if err == nil && result.Next(ctx) {
		count, _ := result.Record().Get("count")
		stats.GroupCount = int(count.(int64))
	}

	return stats, nil
}
