// Package simplisafe provides a Go client library for the unofficial
// SimpliSafe cloud API.
//
// SimpliSafe has no public API, so this library speaks the same protocol the
// official mobile apps do: an Auth0-backed OAuth handshake with two-factor
// verification, an authenticated REST surface for systems, sensors, locks,
// and cameras, and a websocket stream for real-time events.
//
// # Authentication
//
// First-time authentication uses credentials and completes a two-factor
// challenge:
//
//	client := simplisafe.NewClient(
//	    simplisafe.WithTokenStore(simplisafe.NewFileTokenStore("/path/to/tokens.json")),
//	)
//	err := client.LoginWithCredentials(ctx, "user@example.com", "password")
//	if errors.Is(err, simplisafe.ErrPendingVerification) {
//	    switch client.AuthState() {
//	    case simplisafe.AuthStatePending2FASMS:
//	        // Prompt the user for the SMS code, then:
//	        err = client.Verify2FASMS(ctx, code)
//	    case simplisafe.AuthStatePending2FAEmail:
//	        // Have the user click the emailed link, then poll:
//	        err = client.Verify2FAEmail(ctx)
//	    }
//	}
//
// Subsequent sessions restore from a saved refresh token:
//
//	tokens, err := store.LoadTokens(ctx)
//	err = client.LoginWithRefreshToken(ctx, tokens.RefreshToken)
//
// Refresh tokens are single use. The client refreshes expired access tokens
// transparently on 401 responses and marks the session dirty so callers know
// to persist the replacement; a TokenStore makes that automatic.
//
// # Systems
//
// List systems and arm one:
//
//	systems, err := client.Systems(ctx)
//	for _, system := range systems {
//	    fmt.Printf("System %d is %s\n", system.SystemID(), system.State())
//	    err := system.SetState(ctx, simplisafe.SystemStateAway)
//	}
//
// The concrete type depends on the hardware generation; type-assert to
// *SystemV3 for settings, cameras, and locks:
//
//	if v3, ok := system.(*simplisafe.SystemV3); ok {
//	    for _, lock := range v3.Locks() {
//	        err := lock.Lock(ctx)
//	    }
//	}
//
// # Event Stream
//
// Receive pushed events over a websocket:
//
//	ws := client.Websocket()
//	remove := ws.AddEventCallback(func(event simplisafe.WebsocketEvent) {
//	    fmt.Println(event)
//	})
//	defer remove()
//	err := ws.Connect(ctx)
//	err = ws.Listen(ctx) // blocks until disconnect or ctx cancellation
//
// The client does not reconnect on its own; drive reconnection from the
// Listen return value or a disconnect callback.
//
// # Error Handling
//
// Check for specific error conditions:
//
//	if simplisafe.IsInvalidCredentials(err) {
//	    // Wrong username/password or a replayed refresh token
//	} else if status, ok := simplisafe.IsRequestError(err); ok {
//	    // API returned an HTTP error; status holds the code
//	}
//
// This library is not affiliated with or endorsed by SimpliSafe. The
// protocol is reverse engineered and can change without notice.
package simplisafe
