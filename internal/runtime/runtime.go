package runtime

// This is esmerge's runtime code. It contains helper functions that are
// automatically injected into output chunks as needed. It's parsed like any
// other module and always has source index 0. Each helper is its own part so
// tree shaking only keeps the helpers a chunk uses. The code is written with
// the subset of JavaScript the bundled parser understands.

import (
	"github.com/esmerge/esmerge/internal/logger"
)

// The runtime source is always at a special index. The index is always zero
// but this constant is always used instead to improve readability and ensure
// all code that references this index can be discovered easily.
const SourceIndex = uint32(0)

const Code = `
	var __defProp = Object.defineProperty
	var __getOwnPropNames = Object.getOwnPropertyNames
	var __hasOwnProp = Object.prototype.hasOwnProperty

	// Runs the top-level code of a module the first time it's accessed. This
	// is how cyclic modules and modules loaded with require() are initialized.
	export var __esm = (fn, res) => () => (fn && (res = fn(fn = 0)), res)

	// Wraps a CommonJS closure and returns a require() function
	export var __commonJS = (cb, mod) => () => (mod || cb((mod = { exports: {} }).exports, mod), mod.exports)

	// Used to implement ESM exports both for "require()" and "import * as"
	export var __export = (target, all) => {
		for (var name in all)
			__defProp(target, name, { get: all[name], enumerable: true })
	}

	var __copyProps = (to, from, except) => {
		if (from && (typeof from === 'object' || typeof from === 'function'))
			for (let key of __getOwnPropNames(from))
				if (!__hasOwnProp.call(to, key) && key !== except)
					__defProp(to, key, { get: () => from[key], enumerable: true })
		return to
	}

	// This is for the "export * from" syntax when the target is only known at
	// run-time, such as a CommonJS module or an external module
	export var __reExport = (target, mod, secondTarget) => (
		__copyProps(target, mod, 'default'),
		secondTarget && __copyProps(secondTarget, mod, 'default')
	)

	// Converts the module from CommonJS to ESM. If the importer is in node
	// mode or the module doesn't have the "__esModule" marker, the default
	// export is "module.exports" itself.
	export var __toESM = (mod, isNodeMode, target) => (
		target = mod != null ? Object.create(Object.getPrototypeOf(mod)) : {},
		__copyProps(
			isNodeMode || !mod || !mod.__esModule
				? __defProp(target, 'default', { value: mod, enumerable: true })
				: target,
			mod)
	)

	// Converts the module from ESM to CommonJS
	export var __toCommonJS = (mod) => __copyProps(__defProp({}, '__esModule', { value: true }), mod)

	// Anonymous default exports are named "default"
	export var __name = (target, value) => __defProp(target, 'name', { value: value, configurable: true })
`

// The helpers the linker may reference by name
var Helpers = []string{
	"__esm",
	"__commonJS",
	"__export",
	"__reExport",
	"__toESM",
	"__toCommonJS",
	"__name",
}

func Source() logger.Source {
	return logger.Source{
		Index:          SourceIndex,
		KeyPath:        logger.Path{Text: "<runtime>"},
		PrettyPath:     "<runtime>",
		IdentifierName: "runtime",
		Contents:       Code,
	}
}
