// Package extauthz provides the external authorization filter core:
// transport selection and client construction for asking a separate
// authorization service to allow or deny a request.
//
// A configuration block resolves, once at load time, to exactly one of
// three transports:
//   - a raw HTTP client bound to the configured server URI,
//   - a dedicated gRPC client constructed per filter instantiation, or
//   - a gRPC client wrapping a process-wide shared connection keyed by
//     target identity (see the grpcclient package).
//
// All three present the same Client capability to the filter, so the
// request path never re-evaluates the transport choice.
//
// # Usage
//
// Build a filter factory from a configuration block and invoke it once
// per pipeline instantiation:
//
//	env := &extauthz.Environment{
//	    ConnectionManager: grpcclient.NewConnectionManager(),
//	    ClientCache:       grpcclient.NewClientCache(),
//	}
//
//	factory, err := extauthz.NewFilterFactory(cfg, env)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer factory.Close()
//
//	if err := factory.Build(registrar); err != nil {
//	    log.Fatal(err)
//	}
package extauthz
