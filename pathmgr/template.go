package pathmgr

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// analysisOutputTemplates maps an analysis kind to an expr-lang expression
// that renders its output subdirectory from subject/params. Expressions
// evaluate to a string; expr-lang is grounded on the teacher's
// internal/application/executor/conditions.go ConditionEvaluator, which
// compiles and caches condition expressions the same way.
var analysisOutputTemplates = map[string]string{
	"group-mesh":  `subject + "/group_mesh/" + (atlas ?? "unspecified")`,
	"voxel-roi":   `subject + "/voxel_roi/" + (space ?? "mni") + "/" + (roi ?? "unspecified")`,
	"mesh-roi":    `subject + "/mesh_roi/" + (roi ?? "unspecified")`,
	"spherical":   `subject + "/spherical/" + (coords ?? "unspecified") + "_r" + (radius ?? "0")`,
	"group-voxel": `"group/voxel/" + (space ?? "mni")`,
}

var (
	templateCacheMu sync.Mutex
	templateCache   = map[string]*vm.Program{}
)

// renderTemplate compiles (and caches) tmpl as a string-valued expr-lang
// expression and evaluates it against params.
func renderTemplate(tmpl string, params map[string]string) (string, error) {
	program, err := compiledTemplate(tmpl)
	if err != nil {
		return "", err
	}

	env := make(map[string]any, len(params))
	for k, v := range params {
		env[k] = v
	}

	out, err := expr.Run(program, env)
	if err != nil {
		return "", err
	}
	result, ok := out.(string)
	if !ok {
		return "", fmt.Errorf("template %q did not evaluate to a string", tmpl)
	}
	return result, nil
}

func compiledTemplate(tmpl string) (*vm.Program, error) {
	templateCacheMu.Lock()
	defer templateCacheMu.Unlock()

	if program, ok := templateCache[tmpl]; ok {
		return program, nil
	}

	program, err := expr.Compile(tmpl, expr.AsKind(reflect.String))
	if err != nil {
		return nil, err
	}
	templateCache[tmpl] = program
	return program, nil
}
