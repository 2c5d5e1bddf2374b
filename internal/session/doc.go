// Package session holds the client's authentication state.
//
// A Session is constructed once per process and injected into the API client.
// It is mutated only through its transitions:
//
//	sess, _ := session.New(store)
//	sess.Restore(ctx)                               // on start
//	sess.SignIn(ctx, creds, profile)                // after login
//	gen := sess.Generation()                        // before a refresh
//	sess.ReplaceTokens(ctx, gen, access, "", nil)   // after it succeeds
//	sess.Expire(ctx, gen)                           // after it fails
//	sess.Clear(ctx)                                 // on sign-out
//
// SignIn and Clear start a new generation. ReplaceTokens and Expire refuse
// to act on an older one, so a refresh still in flight at sign-out cannot
// sign the user back in.
//
// SignIn and ReplaceTokens write to the secret store before memory changes, so
// a crash never leaves memory ahead of disk. Clear resets memory even when the
// store fails.
package session
