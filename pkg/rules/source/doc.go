// Package source loads compiled rules and serves them to the matcher.
//
// Registry is the in-memory rule store. Sets are swapped whole, so a match
// call observes either the previous or the next rule set, never a mix.
//
// FileSource loads a YAML file or a directory of YAML files into a Registry
// and can watch them with fsnotify. GitSource does the same from a git
// repository checkout and reloads when the branch head moves.
//
// A document that fails to parse keeps its last good rules active; rules
// that fail to compile are kept in the set as invalid rules so the matcher
// can report them.
package source
