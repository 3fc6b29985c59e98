// Package ontology wraps the google/mangle Datalog engine as a ground-fact
// store: each unit's concepts/{Unit}/ontology.mg declares what predicates it
// emits and which kernels it knows about. The edge router and workflow
// validator query this store instead of parsing RDF.
package ontology

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	"github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"

	"ckcore/internal/ckerrors"
	"ckcore/internal/logging"
	"ckcore/internal/unitconfig"
)

// createdFactLimit bounds fixpoint evaluation; this store only ever holds
// ground facts about units/kernels/predicates, never recursive derivations,
// so the ceiling exists purely as a runaway-input backstop.
const createdFactLimit = 100000

// Fact is a single ground atom, e.g. notifies(Validator, Emitter, PRODUCES).
type Fact struct {
	Predicate string
	Args      []string
}

// String renders the Datalog textual form.
func (f Fact) String() string {
	quoted := make([]string, len(f.Args))
	for i, a := range f.Args {
		if strings.HasPrefix(a, "/") {
			quoted[i] = a
		} else {
			quoted[i] = fmt.Sprintf("%q", a)
		}
	}
	return fmt.Sprintf("%s(%s).", f.Predicate, strings.Join(quoted, ", "))
}

func (f Fact) toAtom() (ast.Atom, error) {
	terms := make([]ast.BaseTerm, len(f.Args))
	for i, a := range f.Args {
		if strings.HasPrefix(a, "/") {
			c, err := ast.Name(a)
			if err != nil {
				return ast.Atom{}, err
			}
			terms[i] = c
		} else {
			terms[i] = ast.String(a)
		}
	}
	return ast.NewAtom(f.Predicate, terms...), nil
}

func atomToFact(a ast.Atom) Fact {
	args := make([]string, len(a.Args))
	for i, term := range a.Args {
		args[i] = baseTermToString(term)
	}
	return Fact{Predicate: a.Predicate.Symbol, Args: args}
}

func baseTermToString(term ast.BaseTerm) string {
	switch t := term.(type) {
	case ast.Constant:
		switch t.Type {
		case ast.NameType, ast.StringType:
			return t.Symbol
		case ast.NumberType:
			return fmt.Sprintf("%d", t.NumValue)
		case ast.Float64Type:
			return fmt.Sprintf("%f", t.Float64Value)
		default:
			return t.Symbol
		}
	default:
		return fmt.Sprintf("%v", term)
	}
}

// schema declares the predicates this store knows how to evaluate against.
// Kept minimal and fixed: this store holds ground facts only, no derived rules.
const schema = `
Decl notifies(Unit, Target, Predicate).
Decl kernel(Unit, Type).
Decl predicate_allowed(Predicate).
`

// Store is a per-project ontology reader, backed by one in-memory Mangle
// evaluation over the ground facts loaded from every unit's ontology.mg.
type Store struct {
	mu          sync.RWMutex
	facts       []Fact
	store       factstore.FactStore
	programInfo *analysis.ProgramInfo
}

// New returns an empty, evaluated store.
func New() (*Store, error) {
	s := &Store{facts: make([]Fact, 0)}
	if err := s.evaluate(); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadProject walks conceptsRoot/*/ontology.mg, asserting every fact it
// contains, then folds in each unit's conceptkernel.yaml notification
// contract as notifies(Unit, Target, Predicate) facts, then evaluates once.
// The notification contract is a unit's own declared routing intent; ground
// facts from ontology.mg and the contract from conceptkernel.yaml both feed
// the same notifies predicate, so either source (or both) can drive routing.
func LoadProject(conceptsRoot string) (*Store, error) {
	log := logging.Get(logging.CategoryOntology)
	s := &Store{facts: make([]Fact, 0)}

	entries, err := os.ReadDir(conceptsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			if evalErr := s.evaluate(); evalErr != nil {
				return nil, evalErr
			}
			return s, nil
		}
		return nil, ckerrors.Wrap(ckerrors.CodeIO, conceptsRoot, err)
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		unitName := e.Name()

		path := filepath.Join(conceptsRoot, unitName, "ontology.mg")
		facts, err := parseGroundFacts(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
		} else {
			s.facts = append(s.facts, facts...)
			log.Debug("loaded %d facts from %s", len(facts), path)
		}

		contractFacts, err := notifiesFactsFromUnitConfig(conceptsRoot, unitName)
		if err != nil {
			return nil, err
		}
		s.facts = append(s.facts, contractFacts...)
	}

	if err := s.evaluate(); err != nil {
		return nil, err
	}
	return s, nil
}

// notifiesFactsFromUnitConfig reads a unit's conceptkernel.yaml and turns its
// spec.notification_contract entries into ground notifies facts, defaulting
// an entry's predicate to PRODUCES when unset. Returns no facts, not an
// error, when the unit has no conceptkernel.yaml or no contract entries.
func notifiesFactsFromUnitConfig(conceptsRoot, unitName string) ([]Fact, error) {
	path := filepath.Join(conceptsRoot, unitName, "conceptkernel.yaml")
	if _, err := os.Stat(path); err != nil {
		return nil, nil
	}
	cfg, err := unitconfig.LoadUnitConfig(path)
	if err != nil {
		return nil, err
	}
	facts := make([]Fact, 0, len(cfg.Spec.NotificationContract))
	for _, target := range cfg.Spec.NotificationContract {
		predicate := target.Predicate
		if predicate == "" {
			predicate = "PRODUCES"
		}
		facts = append(facts, Fact{Predicate: "notifies", Args: []string{unitName, target.TargetUnit, predicate}})
	}
	return facts, nil
}

// parseGroundFacts reads a simple `predicate("a", "b").` fact file. Unlike
// the full schema/policy program, unit ontology files never contain rules.
func parseGroundFacts(path string) ([]Fact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	parsed, err := parse.Unit(strings.NewReader(schema + string(data)))
	if err != nil {
		return nil, ckerrors.Wrap(ckerrors.CodeOntology, path, err)
	}
	facts := make([]Fact, 0, len(parsed.Clauses))
	for _, clause := range parsed.Clauses {
		if clause.Premises != nil {
			continue // rules are not accepted in unit ontology files
		}
		args := make([]string, len(clause.Head.Args))
		for i, term := range clause.Head.Args {
			args[i] = baseTermToString(term)
		}
		facts = append(facts, Fact{Predicate: clause.Head.Predicate.Symbol, Args: args})
	}
	return facts, nil
}

// Assert adds a fact and re-evaluates.
func (s *Store) Assert(f Fact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.facts = append(s.facts, f)
	return s.evaluate()
}

func (s *Store) evaluate() error {
	if s.programInfo == nil {
		parsed, err := parse.Unit(strings.NewReader(schema))
		if err != nil {
			return ckerrors.Wrap(ckerrors.CodeOntology, "", err)
		}
		info, err := analysis.AnalyzeOneUnit(parsed, nil)
		if err != nil {
			return ckerrors.Wrap(ckerrors.CodeOntology, "", err)
		}
		s.programInfo = info
	}

	store := factstore.NewSimpleInMemoryStore()
	for _, f := range s.facts {
		atom, err := f.toAtom()
		if err != nil {
			return ckerrors.Wrap(ckerrors.CodeOntology, f.Predicate, err)
		}
		store.Add(atom)
	}

	if _, err := engine.EvalProgramWithStats(s.programInfo, store, engine.WithCreatedFactLimit(createdFactLimit)); err != nil {
		return ckerrors.Wrap(ckerrors.CodeOntology, "", err)
	}
	s.store = store
	return nil
}

// Query returns all facts for a predicate.
func (s *Store) Query(predicate string) ([]Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]Fact, 0)
	for pred := range s.programInfo.Decls {
		if pred.Symbol != predicate {
			continue
		}
		_ = s.store.GetFacts(ast.NewQuery(pred), func(a ast.Atom) error {
			results = append(results, atomToFact(a))
			return nil
		})
		break
	}
	return results, nil
}

// NotificationTargets returns (target, predicate) pairs for a source unit, or
// nil when no notifies fact names it. A contract entry without a predicate
// already carries PRODUCES, filled in when the unit config is loaded.
func (s *Store) NotificationTargets(source string) ([]Target, error) {
	facts, err := s.Query("notifies")
	if err != nil {
		return nil, err
	}
	var out []Target
	for _, f := range facts {
		if len(f.Args) != 3 || f.Args[0] != source {
			continue
		}
		out = append(out, Target{Unit: f.Args[1], Predicate: f.Args[2]})
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// Target is one downstream unit+predicate notified of a source unit's output.
type Target struct {
	Unit      string
	Predicate string
}

// KernelExists reports whether a kernel(Unit, _) fact is registered.
func (s *Store) KernelExists(unit string) (bool, error) {
	facts, err := s.Query("kernel")
	if err != nil {
		return false, err
	}
	for _, f := range facts {
		if len(f.Args) >= 1 && f.Args[0] == unit {
			return true, nil
		}
	}
	return false, nil
}

// PredicateAllowed reports whether a predicate_allowed(Predicate) fact exists.
// An empty allow-set means all predicates are permitted.
func (s *Store) PredicateAllowed(predicate string) (bool, error) {
	facts, err := s.Query("predicate_allowed")
	if err != nil {
		return false, err
	}
	if len(facts) == 0 {
		return true, nil
	}
	for _, f := range facts {
		if len(f.Args) == 1 && f.Args[0] == predicate {
			return true, nil
		}
	}
	return false, nil
}
