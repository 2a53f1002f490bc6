package extract

import "github.com/tidwall/gjson"

// maxDepth bounds recursion on hostile or pathological payloads.
const maxDepth = 256

// walk visits node and every value beneath it depth-first, in document
// order. key is the object key the value was found under, "" for the root
// and array elements.
func walk(node gjson.Result, visit func(key string, node gjson.Result)) {
	walkDepth("", node, visit, 0)
}

func walkDepth(key string, node gjson.Result, visit func(string, gjson.Result), depth int) {
	if depth > maxDepth {
		return
	}
	visit(key, node)
	if !node.IsObject() && !node.IsArray() {
		return
	}
	node.ForEach(func(k, v gjson.Result) bool {
		childKey := ""
		if node.IsObject() {
			childKey = k.String()
		}
		walkDepth(childKey, v, visit, depth+1)
		return true
	})
}

// eachObject calls fn for every object in the tree, the root included.
func eachObject(node gjson.Result, fn func(obj gjson.Result)) {
	walk(node, func(_ string, n gjson.Result) {
		if n.IsObject() {
			fn(n)
		}
	})
}

// eachString calls fn for every string leaf with the key it sits under.
func eachString(node gjson.Result, fn func(key, s string)) {
	walk(node, func(key string, n gjson.Result) {
		if n.Type == gjson.String {
			fn(key, n.Str)
		}
	})
}

// str returns the value at path if it is a string.
func str(obj gjson.Result, path string) (string, bool) {
	v := obj.Get(path)
	if v.Type != gjson.String {
		return "", false
	}
	return v.Str, true
}
