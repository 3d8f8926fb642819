// Package secrets resolves ${secret:name} references in credentials.
//
// Credentials such as the rule repository token may be written in the
// config file as a reference instead of a literal:
//
//	rules:
//	  git:
//	    token: ${secret:git-token}
//
// A Resolver expands references by asking its providers in order. The
// FileProvider reads one file per secret from a directory, the way
// Kubernetes mounts secrets; the EnvProvider reads environment variables
// derived from the name (git-token becomes GATEKEEPER_SECRET_GIT_TOKEN).
package secrets
