/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements all persistence interfaces (PolicyStore, TierLockStore,
  AcademicDirectory, MatchResultStore, AdjustmentStore) using SQLite. In
  production, the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

LAYOUT:
  One Store owns the connection and the registrar records; the interfaces
  whose method sets collide (Get/Save) are exposed as views sharing the
  same *sql.DB:

    store.Policies()     -> pricing.PolicyStore
    store.TierLocks()    -> pricing.TierLockStore
    store.Results()      -> reconcile.MatchResultStore
    store.Adjustments()  -> reconcile.AdjustmentStore
    store itself         -> pricing.AcademicDirectory, GroupSizer, ClassRoster

KEY TABLES:
  pricing_policies:     Windowed price records; overlap-validated on write
  tier_locks:           "Priced as tier X on date Y" per (student, class)
  match_results:        Single row per payment, version column for
                        optimistic concurrency
  adjustments:          UNIQUE(payment_id, adj_type) keeps reruns idempotent
  invoices:             paid_cents mutated only by atomic increments
  reconciliation_runs:  Batch audit records
  students/courses/terms/enrollments/payments: registrar records

MONEY REPRESENTATION:
  Policy prices and variances are stored as decimal strings to round-trip
  decimal.Decimal exactly. The invoice paid-amount is stored in integer
  cents so concurrent payment postings can use SET paid_cents =
  paid_cents + ? instead of read-modify-write.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  multiple readers don't block, single writer at a time.

USAGE:
  store, err := sqlite.New("./data/tuition.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - pricing/policy.go: Interface definitions and overlap validation
  - pricing/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/tuition-engine/pricing"
	"github.com/warp/tuition-engine/reconcile"
)

// Store owns the SQLite connection and the registrar records.
type Store struct {
	db *sql.DB
}

// Compile-time interface checks
var (
	_ pricing.AcademicDirectory  = (*Store)(nil)
	_ pricing.GroupSizer         = (*Store)(nil)
	_ pricing.ClassRoster        = (*Store)(nil)
	_ pricing.PolicyStore        = (*PolicyStore)(nil)
	_ pricing.TierLockStore      = (*TierLockStore)(nil)
	_ reconcile.MatchResultStore = (*ResultStore)(nil)
	_ reconcile.AdjustmentStore  = (*AdjustmentStore)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Policies returns the pricing-policy view.
func (s *Store) Policies() *PolicyStore { return &PolicyStore{db: s.db} }

// TierLocks returns the reading-class tier-lock view.
func (s *Store) TierLocks() *TierLockStore { return &TierLockStore{db: s.db} }

// Results returns the match-result view.
func (s *Store) Results() *ResultStore { return &ResultStore{db: s.db} }

// Adjustments returns the adjustment view.
func (s *Store) Adjustments() *AdjustmentStore { return &AdjustmentStore{db: s.db} }

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Time-versioned pricing policies
	CREATE TABLE IF NOT EXISTS pricing_policies (
		id TEXT PRIMARY KEY,
		entity_kind TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		price_domestic TEXT NOT NULL,
		price_foreign TEXT NOT NULL,
		currency TEXT NOT NULL,
		effective_date TEXT NOT NULL,
		end_date TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_policies_entity
		ON pricing_policies(entity_kind, entity_id);

	-- Reading-class tier price locks
	CREATE TABLE IF NOT EXISTS tier_locks (
		student_id TEXT NOT NULL,
		class_id TEXT NOT NULL,
		tier TEXT NOT NULL,
		priced_on TEXT NOT NULL,
		PRIMARY KEY (student_id, class_id)
	);

	-- One mutable match result per payment (optimistic versioning)
	CREATE TABLE IF NOT EXISTS match_results (
		payment_id TEXT PRIMARY KEY,
		id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		term_id TEXT NOT NULL,
		status TEXT NOT NULL,
		confidence INTEGER NOT NULL,
		confidence_level TEXT NOT NULL,
		pricing_method TEXT,
		matched_json TEXT,
		variance TEXT NOT NULL,
		variance_pct TEXT NOT NULL,
		notes TEXT,
		error_category TEXT,
		error_details TEXT,
		version INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_match_results_status
		ON match_results(status);

	-- Adjustments; the unique key keeps idempotent reruns from duplicating
	CREATE TABLE IF NOT EXISTS adjustments (
		id TEXT NOT NULL,
		payment_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		term_id TEXT NOT NULL,
		adj_type TEXT NOT NULL,
		original_amount TEXT NOT NULL,
		adjusted_amount TEXT NOT NULL,
		variance TEXT NOT NULL,
		requires_approval INTEGER NOT NULL,
		approved INTEGER NOT NULL DEFAULT 0,
		approved_by TEXT,
		note TEXT,
		created_on TEXT NOT NULL,
		UNIQUE (payment_id, adj_type)
	);
	CREATE INDEX IF NOT EXISTS idx_adjustments_pending
		ON adjustments(requires_approval, approved);

	-- Invoice aggregates; paid_cents is only ever incremented atomically
	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		term_id TEXT NOT NULL,
		total_cents INTEGER NOT NULL,
		paid_cents INTEGER NOT NULL DEFAULT 0
	);

	-- Batch run audit records
	CREATE TABLE IF NOT EXISTS reconciliation_runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		completed_at TEXT,
		processed INTEGER NOT NULL DEFAULT 0,
		reconciled INTEGER NOT NULL DEFAULT 0,
		auto_allocated INTEGER NOT NULL DEFAULT 0,
		unmatched INTEGER NOT NULL DEFAULT 0,
		exceptions INTEGER NOT NULL DEFAULT 0
	);

	-- Registrar records
	CREATE TABLE IF NOT EXISTS students (
		id TEXT PRIMARY KEY,
		name TEXT,
		nationality TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS courses (
		id TEXT PRIMARY KEY,
		cycle_id TEXT NOT NULL,
		name TEXT,
		senior_project INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS terms (
		id TEXT PRIMARY KEY,
		name TEXT,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS enrollments (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		course_id TEXT NOT NULL,
		term_id TEXT NOT NULL,
		group_id TEXT,
		class_id TEXT,
		attendance TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_enrollments_student_term
		ON enrollments(student_id, term_id);
	CREATE INDEX IF NOT EXISTS idx_enrollments_group
		ON enrollments(group_id);
	CREATE INDEX IF NOT EXISTS idx_enrollments_class
		ON enrollments(class_id);
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		term_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		pay_date TEXT NOT NULL,
		reference TEXT
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// PRICING POLICIES (pricing.PolicyStore)
// =============================================================================

// PolicyStore is the pricing-policy view over the shared connection.
type PolicyStore struct {
	db *sql.DB
}

func (s *PolicyStore) ActiveAt(ctx context.Context, entity pricing.EntityRef, asOf pricing.Date) (*pricing.PricingPolicy, error) {
	policies, err := s.ListByEntity(ctx, entity)
	if err != nil {
		return nil, err
	}
	return pricing.ActivePolicy(policies, asOf), nil
}

// Save validates the no-overlap invariant inside a transaction so two
// concurrent writes cannot both sneak past the check.
func (s *PolicyStore) Save(ctx context.Context, policy pricing.PricingPolicy) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, entity_kind, entity_id, price_domestic, price_foreign, currency, effective_date, end_date
		FROM pricing_policies WHERE entity_kind = ? AND entity_id = ?`,
		string(policy.Entity.Kind), policy.Entity.ID)
	if err != nil {
		return err
	}
	existing, err := scanPolicies(rows)
	if err != nil {
		return err
	}

	if err := pricing.ValidateNoOverlap(existing, policy.Entity, policy.Window, policy.ID); err != nil {
		return err
	}

	var endDate any
	if policy.Window.End != nil {
		endDate = policy.Window.End.String()
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO pricing_policies (id, entity_kind, entity_id, price_domestic, price_foreign, currency, effective_date, end_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			entity_kind = excluded.entity_kind,
			entity_id = excluded.entity_id,
			price_domestic = excluded.price_domestic,
			price_foreign = excluded.price_foreign,
			currency = excluded.currency,
			effective_date = excluded.effective_date,
			end_date = excluded.end_date`,
		string(policy.ID), string(policy.Entity.Kind), policy.Entity.ID,
		policy.PriceDomestic.Value.String(), policy.PriceForeign.Value.String(),
		string(policy.Currency), policy.Window.Effective.String(), endDate)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PolicyStore) ListByEntity(ctx context.Context, entity pricing.EntityRef) ([]pricing.PricingPolicy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_kind, entity_id, price_domestic, price_foreign, currency, effective_date, end_date
		FROM pricing_policies WHERE entity_kind = ? AND entity_id = ?
		ORDER BY effective_date`,
		string(entity.Kind), entity.ID)
	if err != nil {
		return nil, err
	}
	return scanPolicies(rows)
}

func scanPolicies(rows *sql.Rows) ([]pricing.PricingPolicy, error) {
	defer rows.Close()

	var policies []pricing.PricingPolicy
	for rows.Next() {
		var (
			id, kind, entityID, domestic, foreign, currency, effective string
			end                                                        sql.NullString
		)
		if err := rows.Scan(&id, &kind, &entityID, &domestic, &foreign, &currency, &effective, &end); err != nil {
			return nil, err
		}

		p := pricing.PricingPolicy{
			ID:       pricing.PolicyID(id),
			Entity:   pricing.EntityRef{Kind: pricing.EntityKind(kind), ID: entityID},
			Currency: pricing.Currency(currency),
		}
		p.PriceDomestic = pricing.MustParseMoney(domestic, p.Currency)
		p.PriceForeign = pricing.MustParseMoney(foreign, p.Currency)

		eff, err := pricing.ParseDate(effective)
		if err != nil {
			return nil, fmt.Errorf("policy %s: bad effective date %q: %w", id, effective, err)
		}
		p.Window = pricing.OpenWindow(eff)
		if end.Valid && end.String != "" {
			endDate, err := pricing.ParseDate(end.String)
			if err != nil {
				return nil, fmt.Errorf("policy %s: bad end date %q: %w", id, end.String, err)
			}
			p.Window.End = &endDate
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// =============================================================================
// TIER LOCKS (pricing.TierLockStore)
// =============================================================================

// TierLockStore is the tier-lock view over the shared connection.
type TierLockStore struct {
	db *sql.DB
}

func (s *TierLockStore) Get(ctx context.Context, student pricing.StudentID, class pricing.ClassID) (*pricing.TierLock, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT tier, priced_on FROM tier_locks WHERE student_id = ? AND class_id = ?`,
		string(student), string(class))

	var tier, pricedOn string
	if err := row.Scan(&tier, &pricedOn); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	date, err := pricing.ParseDate(pricedOn)
	if err != nil {
		return nil, err
	}
	return &pricing.TierLock{
		StudentID: student,
		ClassID:   class,
		Tier:      pricing.Tier(tier),
		PricedOn:  date,
	}, nil
}

// Save never replaces an existing lock: the first recorded tier sticks.
func (s *TierLockStore) Save(ctx context.Context, lock pricing.TierLock) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tier_locks (student_id, class_id, tier, priced_on)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(student_id, class_id) DO NOTHING`,
		string(lock.StudentID), string(lock.ClassID), string(lock.Tier), lock.PricedOn.String())
	return err
}

// =============================================================================
// REGISTRAR RECORDS (pricing.AcademicDirectory + rosters)
// =============================================================================

func (s *Store) Student(ctx context.Context, id pricing.StudentID) (pricing.Student, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, nationality FROM students WHERE id = ?`, string(id))

	var sid, name, nationality string
	if err := row.Scan(&sid, &name, &nationality); err != nil {
		if err == sql.ErrNoRows {
			return pricing.Student{}, pricing.ErrStudentNotFound
		}
		return pricing.Student{}, err
	}
	return pricing.Student{
		ID:          pricing.StudentID(sid),
		Name:        name,
		Nationality: pricing.Nationality(nationality),
	}, nil
}

func (s *Store) Course(ctx context.Context, id pricing.CourseID) (pricing.Course, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, cycle_id, name, senior_project FROM courses WHERE id = ?`, string(id))

	var cid, cycle, name string
	var senior int
	if err := row.Scan(&cid, &cycle, &name, &senior); err != nil {
		if err == sql.ErrNoRows {
			return pricing.Course{}, pricing.ErrCourseNotFound
		}
		return pricing.Course{}, err
	}
	return pricing.Course{
		ID:            pricing.CourseID(cid),
		CycleID:       pricing.CycleID(cycle),
		Name:          name,
		SeniorProject: senior != 0,
	}, nil
}

func (s *Store) Term(ctx context.Context, id pricing.TermID) (pricing.Term, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, start_date, end_date FROM terms WHERE id = ?`, string(id))

	var tid, name, start, end string
	if err := row.Scan(&tid, &name, &start, &end); err != nil {
		if err == sql.ErrNoRows {
			return pricing.Term{}, pricing.ErrTermNotFound
		}
		return pricing.Term{}, err
	}
	startDate, err := pricing.ParseDate(start)
	if err != nil {
		return pricing.Term{}, err
	}
	endDate, err := pricing.ParseDate(end)
	if err != nil {
		return pricing.Term{}, err
	}
	return pricing.Term{
		ID:        pricing.TermID(tid),
		Name:      name,
		StartDate: startDate,
		EndDate:   endDate,
	}, nil
}

func (s *Store) ListEnrollments(ctx context.Context, student pricing.StudentID, term pricing.TermID, includeDropped bool) ([]pricing.Enrollment, error) {
	query := `
		SELECT id, student_id, course_id, term_id, group_id, class_id, attendance
		FROM enrollments WHERE student_id = ? AND term_id = ?`
	if !includeDropped {
		query += ` AND attendance != 'DROPPED'`
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, string(student), string(term))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var enrollments []pricing.Enrollment
	for rows.Next() {
		var id, sid, cid, tid, attendance string
		var group, class sql.NullString
		if err := rows.Scan(&id, &sid, &cid, &tid, &group, &class, &attendance); err != nil {
			return nil, err
		}
		enrollments = append(enrollments, pricing.Enrollment{
			ID:         pricing.EnrollmentID(id),
			StudentID:  pricing.StudentID(sid),
			CourseID:   pricing.CourseID(cid),
			TermID:     pricing.TermID(tid),
			GroupID:    pricing.GroupID(group.String),
			ClassID:    pricing.ClassID(class.String),
			Attendance: pricing.AttendanceStatus(attendance),
		})
	}
	return enrollments, rows.Err()
}

// GroupSize counts the non-dropped enrollments sharing a senior-project
// group: the live composition, not a stored capacity.
func (s *Store) GroupSize(ctx context.Context, group pricing.GroupID) (int, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM enrollments
		WHERE group_id = ? AND attendance != 'DROPPED'`, string(group))
	var n int
	err := row.Scan(&n)
	return n, err
}

// EnrolledCount counts the non-dropped enrollments of a reading class.
func (s *Store) EnrolledCount(ctx context.Context, class pricing.ClassID) (int, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM enrollments
		WHERE class_id = ? AND attendance != 'DROPPED'`, string(class))
	var n int
	err := row.Scan(&n)
	return n, err
}

func (s *Store) SaveStudent(ctx context.Context, st pricing.Student) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO students (id, name, nationality) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, nationality = excluded.nationality`,
		string(st.ID), st.Name, string(st.Nationality))
	return err
}

func (s *Store) SaveCourse(ctx context.Context, c pricing.Course) error {
	senior := 0
	if c.SeniorProject {
		senior = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO courses (id, cycle_id, name, senior_project) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET cycle_id = excluded.cycle_id, name = excluded.name,
			senior_project = excluded.senior_project`,
		string(c.ID), string(c.CycleID), c.Name, senior)
	return err
}

func (s *Store) SaveTerm(ctx context.Context, t pricing.Term) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO terms (id, name, start_date, end_date) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, start_date = excluded.start_date,
			end_date = excluded.end_date`,
		string(t.ID), t.Name, t.StartDate.String(), t.EndDate.String())
	return err
}

func (s *Store) SaveEnrollment(ctx context.Context, e pricing.Enrollment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO enrollments (id, student_id, course_id, term_id, group_id, class_id, attendance)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET student_id = excluded.student_id,
			course_id = excluded.course_id, term_id = excluded.term_id,
			group_id = excluded.group_id, class_id = excluded.class_id,
			attendance = excluded.attendance`,
		string(e.ID), string(e.StudentID), string(e.CourseID), string(e.TermID),
		string(e.GroupID), string(e.ClassID), string(e.Attendance))
	return err
}

func (s *Store) SavePayment(ctx context.Context, p pricing.Payment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payments (id, student_id, term_id, amount, currency, pay_date, reference)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET student_id = excluded.student_id,
			term_id = excluded.term_id, amount = excluded.amount,
			currency = excluded.currency, pay_date = excluded.pay_date,
			reference = excluded.reference`,
		string(p.ID), string(p.StudentID), string(p.TermID),
		p.Amount.Value.String(), string(p.Amount.Currency), p.Date.String(), p.Reference)
	return err
}

func (s *Store) Payment(ctx context.Context, id pricing.PaymentID) (pricing.Payment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, student_id, term_id, amount, currency, pay_date, reference
		FROM payments WHERE id = ?`, string(id))
	p, err := scanPayment(row)
	if err == sql.ErrNoRows {
		return pricing.Payment{}, pricing.ErrPaymentNotFound
	}
	return p, err
}

// ListUnreconciledPayments returns payments with no terminal match result,
// the work queue for a batch sweep.
func (s *Store) ListUnreconciledPayments(ctx context.Context) ([]pricing.Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.student_id, p.term_id, p.amount, p.currency, p.pay_date, p.reference
		FROM payments p
		LEFT JOIN match_results m ON m.payment_id = p.id
		WHERE m.payment_id IS NULL OR m.status != 'FULLY_RECONCILED'
		ORDER BY p.pay_date, p.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []pricing.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (pricing.Payment, error) {
	var id, sid, tid, amount, currency, payDate string
	var reference sql.NullString
	if err := row.Scan(&id, &sid, &tid, &amount, &currency, &payDate, &reference); err != nil {
		return pricing.Payment{}, err
	}
	date, err := pricing.ParseDate(payDate)
	if err != nil {
		return pricing.Payment{}, err
	}
	return pricing.Payment{
		ID:        pricing.PaymentID(id),
		StudentID: pricing.StudentID(sid),
		TermID:    pricing.TermID(tid),
		Amount:    pricing.MustParseMoney(amount, pricing.Currency(currency)),
		Date:      date,
		Reference: reference.String,
	}, nil
}

// =============================================================================
// MATCH RESULTS (reconcile.MatchResultStore)
// =============================================================================

// ResultStore is the match-result view over the shared connection.
type ResultStore struct {
	db *sql.DB
}

func (s *ResultStore) Get(ctx context.Context, payment pricing.PaymentID) (*reconcile.MatchResult, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT payment_id, id, student_id, term_id, status, confidence, confidence_level,
			pricing_method, matched_json, variance, variance_pct, notes,
			error_category, error_details, version
		FROM match_results WHERE payment_id = ?`, string(payment))

	var (
		pid, id, sid, tid, status, level                string
		method, matched, notes, errCategory, errDetails sql.NullString
		variance, variancePct                           string
		confidence, version                             int
	)
	err := row.Scan(&pid, &id, &sid, &tid, &status, &confidence, &level, &method,
		&matched, &variance, &variancePct, &notes, &errCategory, &errDetails, &version)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	result := &reconcile.MatchResult{
		ID:              id,
		PaymentID:       pricing.PaymentID(pid),
		StudentID:       pricing.StudentID(sid),
		TermID:          pricing.TermID(tid),
		Status:          reconcile.MatchStatus(status),
		ConfidenceScore: confidence,
		ConfidenceLevel: reconcile.ConfidenceLevel(level),
		PricingMethod:   reconcile.PricingMethod(method.String),
		VarianceAmount:  pricing.MustParseMoney(variance, pricing.CurrencyUSD),
		Notes:           notes.String,
		ErrorCategory:   errCategory.String,
		ErrorDetails:    errDetails.String,
		Version:         version,
	}
	if pct, err := decimal.NewFromString(variancePct); err == nil {
		result.VariancePct = pct
	}
	if matched.Valid && matched.String != "" {
		if err := json.Unmarshal([]byte(matched.String), &result.MatchedEnrollments); err != nil {
			return nil, fmt.Errorf("match result %s: bad matched enrollments: %w", pid, err)
		}
	}
	return result, nil
}

// Save applies the optimistic version check: an UPDATE guarded by the
// version the caller read. Zero rows affected on an existing row means
// someone else won.
func (s *ResultStore) Save(ctx context.Context, result *reconcile.MatchResult) error {
	matched, err := json.Marshal(result.MatchedEnrollments)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)

	res, err := s.db.ExecContext(ctx, `
		UPDATE match_results SET
			id = ?, student_id = ?, term_id = ?, status = ?, confidence = ?,
			confidence_level = ?, pricing_method = ?, matched_json = ?,
			variance = ?, variance_pct = ?, notes = ?, error_category = ?,
			error_details = ?, version = version + 1, updated_at = ?
		WHERE payment_id = ? AND version = ?`,
		result.ID, string(result.StudentID), string(result.TermID), string(result.Status),
		result.ConfidenceScore, string(result.ConfidenceLevel), string(result.PricingMethod),
		string(matched), result.VarianceAmount.Value.String(), result.VariancePct.String(),
		result.Notes, result.ErrorCategory, result.ErrorDetails, now,
		string(result.PaymentID), result.Version)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		result.Version++
		return nil
	}

	// No row updated: either the payment has never been reconciled, or a
	// concurrent writer bumped the version.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO match_results (payment_id, id, student_id, term_id, status, confidence,
			confidence_level, pricing_method, matched_json, variance, variance_pct,
			notes, error_category, error_details, version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(result.PaymentID), result.ID, string(result.StudentID), string(result.TermID),
		string(result.Status), result.ConfidenceScore, string(result.ConfidenceLevel),
		string(result.PricingMethod), string(matched), result.VarianceAmount.Value.String(),
		result.VariancePct.String(), result.Notes, result.ErrorCategory, result.ErrorDetails,
		result.Version+1, now)
	if err != nil {
		// Row exists with a different version: optimistic conflict.
		return pricing.ErrConcurrentModification
	}
	result.Version++
	return nil
}

// =============================================================================
// ADJUSTMENTS (reconcile.AdjustmentStore)
// =============================================================================

// AdjustmentStore is the adjustment view over the shared connection.
type AdjustmentStore struct {
	db *sql.DB
}

func (s *AdjustmentStore) Upsert(ctx context.Context, adj reconcile.Adjustment) error {
	requires, approved := 0, 0
	if adj.RequiresApproval {
		requires = 1
	}
	if adj.Approved {
		approved = 1
	}
	// The conflict clause leaves id/approved/approved_by alone: a rerun
	// refreshes the amounts, not the identity or an approval already
	// granted.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO adjustments (id, payment_id, student_id, term_id, adj_type,
			original_amount, adjusted_amount, variance, requires_approval,
			approved, approved_by, note, created_on)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(payment_id, adj_type) DO UPDATE SET
			original_amount = excluded.original_amount,
			adjusted_amount = excluded.adjusted_amount,
			variance = excluded.variance,
			requires_approval = excluded.requires_approval,
			note = excluded.note`,
		adj.ID, string(adj.PaymentID), string(adj.StudentID), string(adj.TermID),
		string(adj.Type), adj.OriginalAmount.Value.String(), adj.AdjustedAmount.Value.String(),
		adj.Variance.Value.String(), requires, approved, adj.ApprovedBy, adj.Note,
		adj.CreatedOn.String())
	return err
}

func (s *AdjustmentStore) ListByPayment(ctx context.Context, payment pricing.PaymentID) ([]reconcile.Adjustment, error) {
	return s.query(ctx, `
		SELECT id, payment_id, student_id, term_id, adj_type, original_amount,
			adjusted_amount, variance, requires_approval, approved, approved_by, note, created_on
		FROM adjustments WHERE payment_id = ? ORDER BY adj_type`, string(payment))
}

func (s *AdjustmentStore) ListPendingApproval(ctx context.Context) ([]reconcile.Adjustment, error) {
	return s.query(ctx, `
		SELECT id, payment_id, student_id, term_id, adj_type, original_amount,
			adjusted_amount, variance, requires_approval, approved, approved_by, note, created_on
		FROM adjustments WHERE requires_approval = 1 AND approved = 0
		ORDER BY created_on, payment_id`)
}

func (s *AdjustmentStore) Approve(ctx context.Context, id string, approver string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE adjustments SET approved = 1, approved_by = ? WHERE id = ?`, approver, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return reconcile.ErrAdjustmentNotFound
	}
	return nil
}

func (s *AdjustmentStore) query(ctx context.Context, query string, args ...any) ([]reconcile.Adjustment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var adjustments []reconcile.Adjustment
	for rows.Next() {
		var (
			id, pid, sid, tid, adjType, original, adjusted, variance, createdOn string
			approvedBy, note                                                    sql.NullString
			requires, approved                                                  int
		)
		if err := rows.Scan(&id, &pid, &sid, &tid, &adjType, &original, &adjusted,
			&variance, &requires, &approved, &approvedBy, &note, &createdOn); err != nil {
			return nil, err
		}
		created, err := pricing.ParseDate(createdOn)
		if err != nil {
			return nil, err
		}
		adjustments = append(adjustments, reconcile.Adjustment{
			ID:               id,
			PaymentID:        pricing.PaymentID(pid),
			StudentID:        pricing.StudentID(sid),
			TermID:           pricing.TermID(tid),
			Type:             reconcile.AdjustmentType(adjType),
			OriginalAmount:   pricing.MustParseMoney(original, pricing.CurrencyUSD),
			AdjustedAmount:   pricing.MustParseMoney(adjusted, pricing.CurrencyUSD),
			Variance:         pricing.MustParseMoney(variance, pricing.CurrencyUSD),
			RequiresApproval: requires != 0,
			Approved:         approved != 0,
			ApprovedBy:       approvedBy.String,
			Note:             note.String,
			CreatedOn:        created,
		})
	}
	return adjustments, rows.Err()
}

// =============================================================================
// INVOICE AGGREGATES
// =============================================================================

// Invoice is the running paid-amount aggregate shared with the rest of
// the billing system. Amounts are integer cents so increments are atomic.
type Invoice struct {
	ID         string
	StudentID  pricing.StudentID
	TermID     pricing.TermID
	TotalCents int64
	PaidCents  int64
}

func (s *Store) SaveInvoice(ctx context.Context, inv Invoice) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invoices (id, student_id, term_id, total_cents, paid_cents)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET total_cents = excluded.total_cents`,
		inv.ID, string(inv.StudentID), string(inv.TermID), inv.TotalCents, inv.PaidCents)
	return err
}

// ApplyPaymentToInvoice bumps the paid amount with an atomic increment.
// Never read-modify-write: a new payment may post concurrently with a
// reconciliation batch.
func (s *Store) ApplyPaymentToInvoice(ctx context.Context, invoiceID string, deltaCents int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE invoices SET paid_cents = paid_cents + ? WHERE id = ?`, deltaCents, invoiceID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("invoice %s not found", invoiceID)
	}
	return nil
}

func (s *Store) GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, student_id, term_id, total_cents, paid_cents FROM invoices WHERE id = ?`,
		invoiceID)
	var inv Invoice
	var sid, tid string
	if err := row.Scan(&inv.ID, &sid, &tid, &inv.TotalCents, &inv.PaidCents); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	inv.StudentID = pricing.StudentID(sid)
	inv.TermID = pricing.TermID(tid)
	return &inv, nil
}

// =============================================================================
// RECONCILIATION RUNS
// =============================================================================

// RunRecord is the audit row for one batch sweep.
type RunRecord struct {
	ID            string
	StartedAt     time.Time
	CompletedAt   *time.Time
	Processed     int
	Reconciled    int
	AutoAllocated int
	Unmatched     int
	Exceptions    int
}

func (s *Store) SaveRun(ctx context.Context, run RunRecord) error {
	var completed any
	if run.CompletedAt != nil {
		completed = run.CompletedAt.UTC().Format(time.RFC3339)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reconciliation_runs (id, started_at, completed_at, processed,
			reconciled, auto_allocated, unmatched, exceptions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET completed_at = excluded.completed_at,
			processed = excluded.processed, reconciled = excluded.reconciled,
			auto_allocated = excluded.auto_allocated, unmatched = excluded.unmatched,
			exceptions = excluded.exceptions`,
		run.ID, run.StartedAt.UTC().Format(time.RFC3339), completed,
		run.Processed, run.Reconciled, run.AutoAllocated, run.Unmatched, run.Exceptions)
	return err
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, completed_at, processed, reconciled, auto_allocated,
			unmatched, exceptions
		FROM reconciliation_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var run RunRecord
		var started string
		var completed sql.NullString
		if err := rows.Scan(&run.ID, &started, &completed, &run.Processed,
			&run.Reconciled, &run.AutoAllocated, &run.Unmatched, &run.Exceptions); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339, started); err == nil {
			run.StartedAt = t
		}
		if completed.Valid {
			if t, err := time.Parse(time.RFC3339, completed.String); err == nil {
				run.CompletedAt = &t
			}
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Reset clears all tables. Dev/demo only.
func (s *Store) Reset(ctx context.Context) error {
	tables := []string{
		"pricing_policies", "tier_locks", "match_results", "adjustments",
		"invoices", "reconciliation_runs", "students", "courses", "terms",
		"enrollments", "payments",
	}
	for _, t := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+t); err != nil {
			return err
		}
	}
	return nil
}
