package sandbox

import "github.com/dop251/goja"

// hardenSource strips dynamic code generation from a fresh runtime. The
// replacement constructors keep their prototypes so instanceof still works.
const hardenSource = `(function (global) {
	var denied = "Code generation from strings disallowed for this context";

	function seal(proto) {
		var ctor = function () {
			throw new EvalError(denied);
		};
		ctor.prototype = proto;
		Object.defineProperty(proto, "constructor", {
			value: ctor,
			writable: false,
			enumerable: false,
			configurable: false
		});
		return ctor;
	}

	Object.defineProperty(global, "Function", {
		value: seal(Function.prototype),
		writable: false,
		enumerable: false,
		configurable: false
	});
	seal(Object.getPrototypeOf(function* () {}));
	seal(Object.getPrototypeOf(async function () {}));

	Object.defineProperty(global, "eval", {
		value: function () {
			throw new EvalError(denied);
		},
		writable: false,
		enumerable: false,
		configurable: false
	});

	delete global.WebAssembly;
})(this);
`

var hardenProgram = goja.MustCompile("harden.js", hardenSource, false)

func harden(vm *goja.Runtime) error {
	_, err := vm.RunProgram(hardenProgram)
	return err
}
