// Copyright 2024 Jigsaw Operations LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/*
Package backend exposes egress redirection to the host application.

It is the only package the application should use.

# Egress

[Egress.Activate] resolves the SOCKS5 settings, builds one shared dialer and
installs it on every outbound-connection surface of the process: the HTTP and
HTTPS request modules, the WebSocket constructor and the fetch dispatcher.
It must be called first thing in main, before anything issues a request.

# Sessions

[Egress.NewSession] creates a browser session and, when the auto_proxy setting
is on, gives it a random HTTP proxy from a built-in list. This is independent
of the SOCKS5 redirection and stacks on top of it.
*/
package backend
