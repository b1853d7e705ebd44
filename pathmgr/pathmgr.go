// Package pathmgr is the single source of truth for every path the TI-Toolbox
// simulation orchestration core resolves under a BIDS-style project layout.
// No other package constructs a project-relative path by hand.
package pathmgr

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ti-toolbox/tit-core/titerrors"
)

// Manager resolves paths for one project directory.
type Manager struct {
	root string
}

// Option configures project directory resolution.
type Option func(*options)

type options struct {
	explicitRoot string
	mountPrefix  string
}

// WithRoot pins the project root explicitly, bypassing environment
// resolution.
func WithRoot(root string) Option {
	return func(o *options) { o.explicitRoot = root }
}

// WithMountPrefix overrides the prefix PROJECT_DIR_NAME is joined under.
// Defaults to "/mnt", matching the container bind-mount convention the
// original CLI assumes.
func WithMountPrefix(prefix string) Option {
	return func(o *options) { o.mountPrefix = prefix }
}

// New resolves a project directory and returns a Manager bound to it.
// Resolution order: an explicit WithRoot option, then PROJECT_DIR, then
// PROJECT_DIR_NAME joined under the mount prefix. Fails with ConfigError
// if none yields a non-empty path; whether the directory exists is not
// checked.
func New(opts ...Option) (*Manager, error) {
	o := &options{mountPrefix: "/mnt"}
	for _, apply := range opts {
		apply(o)
	}

	root := o.explicitRoot
	if root == "" {
		root = os.Getenv("PROJECT_DIR")
	}
	if root == "" {
		if name := os.Getenv("PROJECT_DIR_NAME"); name != "" {
			root = filepath.Join(o.mountPrefix, name)
		}
	}
	if root == "" {
		return nil, titerrors.NewConfigError("pathmgr", "project directory not resolved: set PROJECT_DIR or PROJECT_DIR_NAME", nil)
	}

	return &Manager{root: root}, nil
}

// ProjectDir returns the resolved project root.
func (m *Manager) ProjectDir() string { return m.root }

// BIDSSubjectID renders "sub-"+S, accepting subject ids that already carry
// the prefix.
func BIDSSubjectID(subject string) string {
	if strings.HasPrefix(subject, "sub-") {
		return subject
	}
	return "sub-" + subject
}

func stripSubjectPrefix(name string) string {
	return strings.TrimPrefix(name, "sub-")
}

// SourcedataDir returns <root>/sub-<S>.
func (m *Manager) SourcedataDir(subject string) string {
	return filepath.Join(m.root, BIDSSubjectID(subject))
}

// DerivativesDir returns <root>/derivatives.
func (m *Manager) DerivativesDir() string {
	return filepath.Join(m.root, "derivatives")
}

// SimNIBSDir returns <root>/derivatives/SimNIBS/sub-<S>.
func (m *Manager) SimNIBSDir(subject string) string {
	return filepath.Join(m.DerivativesDir(), "SimNIBS", BIDSSubjectID(subject))
}

// M2MDir returns <root>/derivatives/SimNIBS/sub-<S>/m2m_<S>.
func (m *Manager) M2MDir(subject string) string {
	return filepath.Join(m.SimNIBSDir(subject), "m2m_"+subject)
}

// EEGPositionsDir returns the m2m EEG cap directory.
func (m *Manager) EEGPositionsDir(subject string) string {
	return filepath.Join(m.M2MDir(subject), "eeg_positions")
}

// LeadfieldDir returns the subject's leadfield directory.
func (m *Manager) LeadfieldDir(subject string) string {
	return filepath.Join(m.SimNIBSDir(subject), "leadfield")
}

// SimulationDir returns the subject's Simulations root, or a specific
// montage's directory when name is non-empty.
func (m *Manager) SimulationDir(subject string, name string) string {
	base := filepath.Join(m.SimNIBSDir(subject), "Simulations")
	if name == "" {
		return base
	}
	return filepath.Join(base, name)
}

// FlexSearchDir returns the subject's flex-search root, or a specific run's
// directory when run is non-empty.
func (m *Manager) FlexSearchDir(subject string, run string) string {
	base := filepath.Join(m.DerivativesDir(), "ti-toolbox", "flex_search", BIDSSubjectID(subject))
	if run == "" {
		return base
	}
	return filepath.Join(base, run)
}

// ReportsDir returns the project-level reports directory.
func (m *Manager) ReportsDir() string {
	return filepath.Join(m.DerivativesDir(), "reports")
}

// LogsDir returns the per-subject runner log directory.
func (m *Manager) LogsDir(subject string) string {
	return filepath.Join(m.DerivativesDir(), "tit", "logs", BIDSSubjectID(subject))
}

// TempDir returns the directory completion manifests are written under.
func (m *Manager) TempDir() string {
	return filepath.Join(m.DerivativesDir(), "temp")
}

// MontageConfigDir returns the directory holding montage_list.json.
func (m *Manager) MontageConfigDir() string {
	return filepath.Join(m.root, "code", "ti-toolbox", "config")
}

// MontageListPath returns the path to montage_list.json.
func (m *Manager) MontageListPath() string {
	return filepath.Join(m.MontageConfigDir(), "montage_list.json")
}

// UsableSubject reports whether a subject's m2m directory exists and
// contains a head mesh and an EEG positions directory, the definition of
// "usable by the core".
func (m *Manager) UsableSubject(subject string) bool {
	m2m := m.M2MDir(subject)
	mesh := filepath.Join(m2m, subject+".msh")
	if _, err := os.Stat(mesh); err != nil {
		return false
	}
	info, err := os.Stat(m.EEGPositionsDir(subject))
	return err == nil && info.IsDir()
}

// ListSubjects returns naturally sorted, de-duplicated subject ids drawn
// from sourcedata, derivatives/SimNIBS, and the project root, with any
// "sub-" prefix stripped. Missing roots contribute nothing; this never
// errors.
func (m *Manager) ListSubjects() []string {
	seen := map[string]struct{}{}

	collect := func(dir string) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			name := e.Name()
			if !strings.HasPrefix(name, "sub-") {
				continue
			}
			seen[stripSubjectPrefix(name)] = struct{}{}
		}
	}

	collect(filepath.Join(m.root, "sourcedata"))
	collect(filepath.Join(m.DerivativesDir(), "SimNIBS"))
	collect(m.root)

	subjects := make([]string, 0, len(seen))
	for s := range seen {
		subjects = append(subjects, s)
	}
	sortNatural(subjects)
	return subjects
}

// ListEEGCaps returns the naturally sorted, de-duplicated (case-insensitive)
// list of EEG cap filenames for a subject. A subject with no EEG caps
// yields an empty list, not an error.
func (m *Manager) ListEEGCaps(subject string) []string {
	dir := m.EEGPositionsDir(subject)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return []string{}
	}

	seen := map[string]string{} // lowercase -> original casing first seen
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".csv") {
			continue
		}
		key := strings.ToLower(e.Name())
		if _, ok := seen[key]; !ok {
			seen[key] = e.Name()
		}
	}

	caps := make([]string, 0, len(seen))
	for _, name := range seen {
		caps = append(caps, name)
	}
	sortNatural(caps)
	return caps
}

// ListSimulations returns the naturally sorted montage directory names
// under a subject's Simulations root. Missing root yields an empty list.
func (m *Manager) ListSimulations(subject string) []string {
	return listSubdirs(m.SimulationDir(subject, ""))
}

// ListFlexSearchRuns returns the naturally sorted run names under a
// subject's flex_search root. Missing root yields an empty list.
func (m *Manager) ListFlexSearchRuns(subject string) []string {
	return listSubdirs(m.FlexSearchDir(subject, ""))
}

func listSubdirs(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return []string{}
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sortNatural(names)
	return names
}

// GetAnalysisOutputDir is the deterministic path contract shared between
// front-ends and analyzer collaborators. It is a pure function of its
// inputs: for fixed inputs it returns a byte-identical path across runs.
func (m *Manager) GetAnalysisOutputDir(subject, analysisKind string, params map[string]string) (string, error) {
	tmpl, ok := analysisOutputTemplates[analysisKind]
	if !ok {
		return "", titerrors.NewConfigError("pathmgr", "unknown analysis kind: "+analysisKind, nil)
	}
	rendered, err := renderTemplate(tmpl, mergeParams(map[string]string{
		"subject": BIDSSubjectID(subject),
	}, params))
	if err != nil {
		return "", titerrors.NewConfigError("pathmgr", "failed to render analysis output path", err)
	}
	return filepath.Join(m.DerivativesDir(), "ti-toolbox", "analysis", rendered), nil
}

func mergeParams(base, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// sortNatural sorts strings so that embedded integer runs compare
// numerically (sub-9 before sub-10), falling back to lexical comparison
// for non-numeric segments. No natural-sort library appears anywhere in
// the retrieval pack, so this is implemented directly; see DESIGN.md.
func sortNatural(items []string) {
	sort.Slice(items, func(i, j int) bool {
		return lessNatural(items[i], items[j])
	})
}

func lessNatural(a, b string) bool {
	ai, bi := 0, 0
	for ai < len(a) && bi < len(b) {
		ac, bc := a[ai], b[bi]
		if isDigit(ac) && isDigit(bc) {
			as, ae := ai, ai
			for ae < len(a) && isDigit(a[ae]) {
				ae++
			}
			bs, be := bi, bi
			for be < len(b) && isDigit(b[be]) {
				be++
			}
			an, aerr := strconv.Atoi(a[as:ae])
			bn, berr := strconv.Atoi(b[bs:be])
			if aerr == nil && berr == nil && an != bn {
				return an < bn
			}
			ai, bi = ae, be
			continue
		}
		if ac != bc {
			return ac < bc
		}
		ai++
		bi++
	}
	return len(a)-ai < len(b)-bi
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
