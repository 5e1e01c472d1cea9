package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver
	"github.com/jmoiron/sqlx"

	"github.com/paddockhq/paddock/pkg/types"
)

// PostgresStore implements Store on a relational database. Nested structured
// fields (spec, status, labels, controller_data) live in JSONB columns; the
// active-container scan is served by an index on the status->>'status' path.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore opens a connection pool against the given DSN.
func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sqlx.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an existing database handle. Used by tests.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: sqlx.NewDb(db, "pgx")}
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func jsonColumn(v interface{}) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

// containerRow is the flat relational projection of a types.Container.
type containerRow struct {
	ID                string    `db:"id"`
	Name              string    `db:"name"`
	Namespace         string    `db:"namespace"`
	Owner             string    `db:"owner"`
	CreatedBy         string    `db:"created_by"`
	Labels            []byte    `db:"labels"`
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
	Spec              []byte    `db:"spec"`
	DesiredStatus     string    `db:"desired_status"`
	Status            []byte    `db:"status"`
	ResourceName      string    `db:"resource_name"`
	ResourceCostPerHr float64   `db:"resource_cost_per_hr"`
	PublicAddr        string    `db:"public_addr"`
	TailnetIP         string    `db:"tailnet_ip"`
	ContainerUser     string    `db:"container_user"`
	ControllerData    []byte    `db:"controller_data"`
	OwnerRef          string    `db:"owner_ref"`
	Queue             string    `db:"queue"`
}

func (r *containerRow) toContainer() (*types.Container, error) {
	c := &types.Container{
		Metadata: types.Metadata{
			ID:        r.ID,
			Name:      r.Name,
			Namespace: r.Namespace,
			Owner:     r.Owner,
			CreatedBy: r.CreatedBy,
			CreatedAt: r.CreatedAt,
			UpdatedAt: r.UpdatedAt,
		},
		Desired:           types.ContainerState(r.DesiredStatus),
		ResourceName:      r.ResourceName,
		ResourceCostPerHr: r.ResourceCostPerHr,
		PublicAddr:        r.PublicAddr,
		TailnetIP:         r.TailnetIP,
		ContainerUser:     r.ContainerUser,
		OwnerRef:          r.OwnerRef,
	}
	for _, pair := range []struct {
		raw []byte
		dst interface{}
	}{
		{r.Labels, &c.Metadata.Labels},
		{r.Spec, &c.Spec},
		{r.Status, &c.Status},
		{r.ControllerData, &c.ControllerData},
	} {
		if len(pair.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(pair.raw, pair.dst); err != nil {
			return nil, fmt.Errorf("failed to decode container %s: %w", r.ID, err)
		}
	}
	return c, nil
}

func containerToRow(c *types.Container) (*containerRow, error) {
	labels, err := jsonColumn(c.Metadata.Labels)
	if err != nil {
		return nil, err
	}
	spec, err := jsonColumn(c.Spec)
	if err != nil {
		return nil, err
	}
	status, err := jsonColumn(c.Status)
	if err != nil {
		return nil, err
	}
	cdata, err := jsonColumn(c.ControllerData)
	if err != nil {
		return nil, err
	}
	return &containerRow{
		ID:                c.Metadata.ID,
		Name:              c.Metadata.Name,
		Namespace:         c.Metadata.Namespace,
		Owner:             c.Metadata.Owner,
		CreatedBy:         c.Metadata.CreatedBy,
		Labels:            labels,
		CreatedAt:         c.Metadata.CreatedAt,
		UpdatedAt:         c.Metadata.UpdatedAt,
		Spec:              spec,
		DesiredStatus:     string(c.Desired),
		Status:            status,
		ResourceName:      c.ResourceName,
		ResourceCostPerHr: c.ResourceCostPerHr,
		PublicAddr:        c.PublicAddr,
		TailnetIP:         c.TailnetIP,
		ContainerUser:     c.ContainerUser,
		ControllerData:    cdata,
		OwnerRef:          c.OwnerRef,
		Queue:             c.Spec.Queue,
	}, nil
}

const containerColumns = `id, name, namespace, owner, created_by, labels, created_at, updated_at,
	spec, desired_status, status, resource_name, resource_cost_per_hr,
	public_addr, tailnet_ip, container_user, controller_data, owner_ref, queue`

func statePlaceholders(states []types.ContainerState) string {
	quoted := make([]string, len(states))
	for i, s := range states {
		quoted[i] = "'" + string(s) + "'"
	}
	return strings.Join(quoted, ", ")
}

// Containers

func (s *PostgresStore) CreateContainer(ctx context.Context, c *types.Container) error {
	row, err := containerToRow(c)
	if err != nil {
		return err
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO containers (`+containerColumns+`)
		VALUES (:id, :name, :namespace, :owner, :created_by, :labels, :created_at, :updated_at,
			:spec, :desired_status, :status, :resource_name, :resource_cost_per_hr,
			:public_addr, :tailnet_ip, :container_user, :controller_data, :owner_ref, :queue)`,
		row)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (s *PostgresStore) GetContainer(ctx context.Context, id string) (*types.Container, error) {
	var row containerRow
	err := s.db.GetContext(ctx, &row, `SELECT `+containerColumns+` FROM containers WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toContainer()
}

func (s *PostgresStore) GetContainerByName(ctx context.Context, namespace, name string) (*types.Container, error) {
	var row containerRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+containerColumns+` FROM containers WHERE namespace = $1 AND name = $2`, namespace, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toContainer()
}

func (s *PostgresStore) ListContainers(ctx context.Context, namespace string) ([]*types.Container, error) {
	query := `SELECT ` + containerColumns + ` FROM containers ORDER BY created_at, id`
	args := []interface{}{}
	if namespace != "" {
		query = `SELECT ` + containerColumns + ` FROM containers WHERE namespace = $1 ORDER BY created_at, id`
		args = append(args, namespace)
	}
	return s.selectContainers(ctx, query, args...)
}

func (s *PostgresStore) ListActiveContainers(ctx context.Context) ([]*types.Container, error) {
	query := `SELECT ` + containerColumns + ` FROM containers
		WHERE status->>'status' IN (` + statePlaceholders(types.ActiveContainerStates()) + `)
		ORDER BY created_at, id`
	return s.selectContainers(ctx, query)
}

func (s *PostgresStore) ListContainersByOwnerRef(ctx context.Context, ownerRef string) ([]*types.Container, error) {
	query := `SELECT ` + containerColumns + ` FROM containers WHERE owner_ref = $1 ORDER BY created_at, id`
	return s.selectContainers(ctx, query, ownerRef)
}

func (s *PostgresStore) ListQueuePeers(ctx context.Context, queue, excludeID string) ([]*types.Container, error) {
	query := `SELECT ` + containerColumns + ` FROM containers
		WHERE queue = $1 AND id != $2
		AND status->>'status' IN (` + statePlaceholders(types.ActiveContainerStates()) + `)
		ORDER BY created_at, id`
	return s.selectContainers(ctx, query, queue, excludeID)
}

func (s *PostgresStore) selectContainers(ctx context.Context, query string, args ...interface{}) ([]*types.Container, error) {
	var rows []containerRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]*types.Container, 0, len(rows))
	for i := range rows {
		c, err := rows[i].toContainer()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *PostgresStore) UpdateContainer(ctx context.Context, c *types.Container) error {
	c.Metadata.UpdatedAt = time.Now().UTC()
	row, err := containerToRow(c)
	if err != nil {
		return err
	}
	res, err := s.db.NamedExecContext(ctx, `
		UPDATE containers SET
			labels = :labels, updated_at = :updated_at, spec = :spec,
			desired_status = :desired_status, status = :status,
			resource_name = :resource_name, resource_cost_per_hr = :resource_cost_per_hr,
			public_addr = :public_addr, tailnet_ip = :tailnet_ip,
			container_user = :container_user, controller_data = :controller_data,
			owner_ref = :owner_ref, queue = :queue
		WHERE id = :id`, row)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

func (s *PostgresStore) DeleteContainer(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM containers WHERE id = $1`, id)
	return err
}

// processorRow is the flat relational projection of a types.Processor.
type processorRow struct {
	ID              string    `db:"id"`
	Name            string    `db:"name"`
	Namespace       string    `db:"namespace"`
	Owner           string    `db:"owner"`
	CreatedBy       string    `db:"created_by"`
	Labels          []byte    `db:"labels"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
	ContainerSpec   []byte    `db:"container_spec"`
	Stream          string    `db:"stream"`
	Schema          string    `db:"schema"`
	CommonSchema    string    `db:"common_schema"`
	MinReplicas     int       `db:"min_replicas"`
	MaxReplicas     int       `db:"max_replicas"`
	DesiredReplicas int       `db:"desired_replicas"`
	Scale           []byte    `db:"scale"`
	DesiredStatus   string    `db:"desired_status"`
	Status          []byte    `db:"status"`
	ControllerData  []byte    `db:"controller_data"`
}

func (r *processorRow) toProcessor() (*types.Processor, error) {
	p := &types.Processor{
		Metadata: types.Metadata{
			ID:        r.ID,
			Name:      r.Name,
			Namespace: r.Namespace,
			Owner:     r.Owner,
			CreatedBy: r.CreatedBy,
			CreatedAt: r.CreatedAt,
			UpdatedAt: r.UpdatedAt,
		},
		Stream:          r.Stream,
		Schema:          r.Schema,
		CommonSchema:    r.CommonSchema,
		MinReplicas:     r.MinReplicas,
		MaxReplicas:     r.MaxReplicas,
		DesiredReplicas: r.DesiredReplicas,
		Desired:         types.ProcessorState(r.DesiredStatus),
	}
	for _, pair := range []struct {
		raw []byte
		dst interface{}
	}{
		{r.Labels, &p.Metadata.Labels},
		{r.ContainerSpec, &p.Container},
		{r.Scale, &p.Scale},
		{r.Status, &p.Status},
		{r.ControllerData, &p.ControllerData},
	} {
		if len(pair.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(pair.raw, pair.dst); err != nil {
			return nil, fmt.Errorf("failed to decode processor %s: %w", r.ID, err)
		}
	}
	return p, nil
}

func processorToRow(p *types.Processor) (*processorRow, error) {
	labels, err := jsonColumn(p.Metadata.Labels)
	if err != nil {
		return nil, err
	}
	spec, err := jsonColumn(p.Container)
	if err != nil {
		return nil, err
	}
	scale, err := jsonColumn(p.Scale)
	if err != nil {
		return nil, err
	}
	status, err := jsonColumn(p.Status)
	if err != nil {
		return nil, err
	}
	cdata, err := jsonColumn(p.ControllerData)
	if err != nil {
		return nil, err
	}
	return &processorRow{
		ID:              p.Metadata.ID,
		Name:            p.Metadata.Name,
		Namespace:       p.Metadata.Namespace,
		Owner:           p.Metadata.Owner,
		CreatedBy:       p.Metadata.CreatedBy,
		Labels:          labels,
		CreatedAt:       p.Metadata.CreatedAt,
		UpdatedAt:       p.Metadata.UpdatedAt,
		ContainerSpec:   spec,
		Stream:          p.Stream,
		Schema:          p.Schema,
		CommonSchema:    p.CommonSchema,
		MinReplicas:     p.MinReplicas,
		MaxReplicas:     p.MaxReplicas,
		DesiredReplicas: p.DesiredReplicas,
		Scale:           scale,
		DesiredStatus:   string(p.Desired),
		Status:          status,
		ControllerData:  cdata,
	}, nil
}

const processorColumns = `id, name, namespace, owner, created_by, labels, created_at, updated_at,
	container_spec, stream, schema, common_schema, min_replicas, max_replicas,
	desired_replicas, scale, desired_status, status, controller_data`

func (s *PostgresStore) CreateProcessor(ctx context.Context, p *types.Processor) error {
	row, err := processorToRow(p)
	if err != nil {
		return err
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO processors (`+processorColumns+`)
		VALUES (:id, :name, :namespace, :owner, :created_by, :labels, :created_at, :updated_at,
			:container_spec, :stream, :schema, :common_schema, :min_replicas, :max_replicas,
			:desired_replicas, :scale, :desired_status, :status, :controller_data)`, row)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (s *PostgresStore) GetProcessor(ctx context.Context, id string) (*types.Processor, error) {
	var row processorRow
	err := s.db.GetContext(ctx, &row, `SELECT `+processorColumns+` FROM processors WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toProcessor()
}

func (s *PostgresStore) GetProcessorByName(ctx context.Context, namespace, name string) (*types.Processor, error) {
	var row processorRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+processorColumns+` FROM processors WHERE namespace = $1 AND name = $2`, namespace, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toProcessor()
}

func (s *PostgresStore) ListProcessors(ctx context.Context, namespace string) ([]*types.Processor, error) {
	query := `SELECT ` + processorColumns + ` FROM processors ORDER BY created_at, id`
	args := []interface{}{}
	if namespace != "" {
		query = `SELECT ` + processorColumns + ` FROM processors WHERE namespace = $1 ORDER BY created_at, id`
		args = append(args, namespace)
	}
	return s.selectProcessors(ctx, query, args...)
}

func (s *PostgresStore) ListActiveProcessors(ctx context.Context) ([]*types.Processor, error) {
	states := types.ActiveProcessorStates()
	quoted := make([]string, len(states))
	for i, st := range states {
		quoted[i] = "'" + string(st) + "'"
	}
	query := `SELECT ` + processorColumns + ` FROM processors
		WHERE status->>'status' IN (` + strings.Join(quoted, ", ") + `)
		ORDER BY created_at, id`
	return s.selectProcessors(ctx, query)
}

func (s *PostgresStore) selectProcessors(ctx context.Context, query string, args ...interface{}) ([]*types.Processor, error) {
	var rows []processorRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]*types.Processor, 0, len(rows))
	for i := range rows {
		p, err := rows[i].toProcessor()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *PostgresStore) UpdateProcessor(ctx context.Context, p *types.Processor) error {
	p.Metadata.UpdatedAt = time.Now().UTC()
	row, err := processorToRow(p)
	if err != nil {
		return err
	}
	res, err := s.db.NamedExecContext(ctx, `
		UPDATE processors SET
			labels = :labels, updated_at = :updated_at, container_spec = :container_spec,
			stream = :stream, schema = :schema, common_schema = :common_schema,
			min_replicas = :min_replicas, max_replicas = :max_replicas,
			desired_replicas = :desired_replicas, scale = :scale,
			desired_status = :desired_status, status = :status,
			controller_data = :controller_data
		WHERE id = :id`, row)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

func (s *PostgresStore) DeleteProcessor(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM processors WHERE id = $1`, id)
	return err
}

// Namespaces

func (s *PostgresStore) CreateNamespace(ctx context.Context, ns *types.Namespace) error {
	labels, err := jsonColumn(ns.Metadata.Labels)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO namespaces (id, name, owner, created_by, labels, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ns.Metadata.ID, ns.Metadata.Name, ns.Metadata.Owner, ns.Metadata.CreatedBy,
		labels, ns.Metadata.CreatedAt, ns.Metadata.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (s *PostgresStore) GetNamespace(ctx context.Context, name string) (*types.Namespace, error) {
	row := s.db.QueryRowxContext(ctx,
		`SELECT id, name, owner, created_by, labels, created_at, updated_at FROM namespaces WHERE name = $1`, name)
	return scanNamespace(row)
}

func (s *PostgresStore) ListNamespaces(ctx context.Context) ([]*types.Namespace, error) {
	rows, err := s.db.QueryxContext(ctx,
		`SELECT id, name, owner, created_by, labels, created_at, updated_at FROM namespaces ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Namespace
	for rows.Next() {
		ns, err := scanNamespace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ns)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNamespace(row rowScanner) (*types.Namespace, error) {
	var ns types.Namespace
	var labels []byte
	err := row.Scan(&ns.Metadata.ID, &ns.Metadata.Name, &ns.Metadata.Owner,
		&ns.Metadata.CreatedBy, &labels, &ns.Metadata.CreatedAt, &ns.Metadata.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(labels) > 0 {
		if err := json.Unmarshal(labels, &ns.Metadata.Labels); err != nil {
			return nil, err
		}
	}
	ns.Metadata.Namespace = ns.Metadata.Name
	return &ns, nil
}

func (s *PostgresStore) DeleteNamespace(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM namespaces WHERE name = $1`, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

// Secrets

func (s *PostgresStore) CreateSecret(ctx context.Context, sec *types.Secret) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO secrets (id, name, namespace, owner, created_by, encrypted_value, nonce, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		sec.Metadata.ID, sec.Metadata.Name, sec.Metadata.Namespace, sec.Metadata.Owner,
		sec.Metadata.CreatedBy, sec.Value, sec.Nonce, sec.ExpiresAt,
		sec.Metadata.CreatedAt, sec.Metadata.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (s *PostgresStore) GetSecret(ctx context.Context, namespace, name string) (*types.Secret, error) {
	var sec types.Secret
	err := s.db.QueryRowxContext(ctx, `
		SELECT id, name, namespace, owner, created_by, encrypted_value, nonce, expires_at, created_at, updated_at
		FROM secrets WHERE namespace = $1 AND name = $2`, namespace, name).
		Scan(&sec.Metadata.ID, &sec.Metadata.Name, &sec.Metadata.Namespace, &sec.Metadata.Owner,
			&sec.Metadata.CreatedBy, &sec.Value, &sec.Nonce, &sec.ExpiresAt,
			&sec.Metadata.CreatedAt, &sec.Metadata.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sec, nil
}

func (s *PostgresStore) ListSecrets(ctx context.Context, namespace string) ([]*types.Secret, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, name, namespace, owner, created_by, encrypted_value, nonce, expires_at, created_at, updated_at
		FROM secrets WHERE namespace = $1 ORDER BY name`, namespace)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Secret
	for rows.Next() {
		var sec types.Secret
		if err := rows.Scan(&sec.Metadata.ID, &sec.Metadata.Name, &sec.Metadata.Namespace,
			&sec.Metadata.Owner, &sec.Metadata.CreatedBy, &sec.Value, &sec.Nonce,
			&sec.ExpiresAt, &sec.Metadata.CreatedAt, &sec.Metadata.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &sec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateSecret(ctx context.Context, sec *types.Secret) error {
	sec.Metadata.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE secrets SET encrypted_value = $1, nonce = $2, expires_at = $3, updated_at = $4
		WHERE namespace = $5 AND name = $6`,
		sec.Value, sec.Nonce, sec.ExpiresAt, sec.Metadata.UpdatedAt,
		sec.Metadata.Namespace, sec.Metadata.Name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

func (s *PostgresStore) DeleteSecret(ctx context.Context, namespace, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM secrets WHERE namespace = $1 AND name = $2`, namespace, name)
	return err
}

// Volumes

func (s *PostgresStore) CreateVolume(ctx context.Context, v *types.Volume) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO volumes (id, owner, datacenter, handle, size_gb, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		v.ID, v.Owner, v.Datacenter, v.Handle, v.SizeGB, v.CreatedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (s *PostgresStore) GetVolumeByOwner(ctx context.Context, owner, datacenter string) (*types.Volume, error) {
	var v types.Volume
	err := s.db.QueryRowxContext(ctx, `
		SELECT id, owner, datacenter, handle, size_gb, created_at
		FROM volumes WHERE owner = $1 AND datacenter = $2`, owner, datacenter).
		Scan(&v.ID, &v.Owner, &v.Datacenter, &v.Handle, &v.SizeGB, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}
