// Package facade implements the Synchronization Facade.
//
// A Facade composes one Connection Manager, one Fetch Manager and the live
// event buffer behind a single read-only State. Every change in an
// underlying component republishes State to subscribers. Start and Stop are
// the only lifecycle boundary; nothing else opens or closes the connection
// or the fetch subscriptions.
package facade
