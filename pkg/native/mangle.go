// Package native implements the JNI symbol-name convention used to bind
// Java native methods to Go implementations registered as library symbols.
package native

import (
	"fmt"
	"strings"
)

// mangle escapes one name component per the JNI rules: '/' becomes '_',
// '_' becomes "_1", ';' becomes "_2", '[' becomes "_3", and anything
// outside [A-Za-z0-9] becomes the unicode escape _0xxxx.
func mangle(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch {
		case r == '/':
			sb.WriteByte('_')
		case r == '_':
			sb.WriteString("_1")
		case r == ';':
			sb.WriteString("_2")
		case r == '[':
			sb.WriteString("_3")
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			sb.WriteRune(r)
		default:
			sb.WriteString(fmt.Sprintf("_0%04x", r))
		}
	}
	return sb.String()
}

// MangledNames returns the short and long JNI symbol names for a method:
// Java_<class>_<method> and Java_<class>_<method>__<args>. The long form
// appends the mangled argument descriptor (the text between the
// parentheses) and is consulted when overloads collide.
func MangledNames(class, name, desc string) (short, long string) {
	short = "Java_" + mangle(class) + "_" + mangle(name)
	args := desc
	if i := strings.IndexByte(desc, '('); i >= 0 {
		args = desc[i+1:]
	}
	if j := strings.IndexByte(args, ')'); j >= 0 {
		args = args[:j]
	}
	long = short + "__" + mangle(args)
	return short, long
}
