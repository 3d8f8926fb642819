// Package assignment resolves assignment target descriptors to users or
// role queues.
//
// A descriptor is tried against, in order: an explicit user reference, a
// dotted path in the evaluation context, the active holders of a role in the
// tenant, and finally a fallback descriptor. The first strategy that yields
// someone wins. When every strategy fails the resolver returns an
// *UnresolvedAssignmentError, which callers must treat as blocking.
//
// Descriptor forms:
//
//	user:alice@acme.test     explicit user
//	alice@acme.test          explicit user (e-mail literal)
//	role:security_reviewer   role only
//	path:user.manager        context path only
//	user.department_manager  context path, then role
//	security_reviewer        context path, then role
package assignment
