package sandbox

// pythonHarness is the fixed program handed to a freshly spawned interpreter
// for every execution. It reads one JSON payload from stdin, compiles the
// candidate under a restricted builtins namespace with a guarded import hook,
// runs the entry point with the payload arguments, and writes exactly one
// JSON message to stdout. The candidate's own print output is redirected to
// stderr so it cannot corrupt the result channel. The guard fires for
// transitively imported modules too, because it replaces __import__ itself.
const pythonHarness = `
import sys, json, builtins

def _main():
    payload = json.load(sys.stdin)
    allow = set(payload.get("allow_imports") or [])

    def _print(*args, **kwargs):
        kwargs["file"] = sys.stderr
        builtins.print(*args, **kwargs)

    safe = {
        "len": len, "range": range, "min": min, "max": max, "sum": sum,
        "isinstance": isinstance, "print": _print, "enumerate": enumerate,
        "zip": zip, "all": all, "any": any, "map": map, "filter": filter,
        "dict": dict, "list": list, "set": set, "tuple": tuple,
        "float": float, "int": int, "str": str, "bool": bool, "abs": abs,
        "sorted": sorted, "reversed": reversed,
        "__build_class__": builtins.__build_class__,
        "__name__": "__sandbox__",
    }

    real_import = builtins.__import__

    def guarded_import(name, globals=None, locals=None, fromlist=(), level=0):
        root = name.split(".")[0]
        if root not in allow:
            raise ImportError("disallowed import: " + root)
        return real_import(name, globals, locals, fromlist, level)

    safe["__import__"] = guarded_import

    g = {"__builtins__": safe, "__name__": "__sandbox__"}
    l = {}
    code = compile(payload["source"], "<lazarus>", "exec")
    exec(code, g, l)
    fn = l.get(payload["entry"]) or g.get(payload["entry"])
    if fn is None:
        raise RuntimeError("entry point not defined: " + payload["entry"])
    return fn(*payload.get("args", []))

try:
    _result = _main()
    _message = json.dumps({"ok": _result})
except BaseException as e:
    _message = json.dumps({"err": type(e).__name__ + ": " + str(e)})

sys.stdout.write(_message)
sys.stdout.flush()
`
